package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/spineflow/engine/internal/engine/connection"
)

// projectFile is the on-disk shape of a project description: items, the
// connections between them, and any jump (loop-back) edges layered on
// top.
type projectFile struct {
	Items []struct {
		Name string         `yaml:"name"`
		Type string         `yaml:"type"`
		Dict map[string]any `yaml:"dict"`
	} `yaml:"items"`
	Connections []struct {
		Source      string `yaml:"source"`
		Destination string `yaml:"destination"`
		WriteIndex  int    `yaml:"write_index"`
	} `yaml:"connections"`
	Jumps []struct {
		Source      string `yaml:"source"`
		Destination string `yaml:"destination"`
	} `yaml:"jumps"`
}

func loadProjectFile(path string) (*projectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file %s: %w", path, err)
	}
	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", path, err)
	}
	return &pf, nil
}

func (pf *projectFile) connections() []*connection.Connection {
	conns := make([]*connection.Connection, 0, len(pf.Connections))
	for _, c := range pf.Connections {
		conn := connection.NewConnection(c.Source, c.Destination)
		if c.WriteIndex != 0 {
			conn.Options.WriteIndex = c.WriteIndex
		}
		conns = append(conns, conn)
	}
	return conns
}

func (pf *projectFile) jumps() []*connection.Jump {
	jumps := make([]*connection.Jump, 0, len(pf.Jumps))
	for _, j := range pf.Jumps {
		jumps = append(jumps, connection.NewJump(j.Source, j.Destination))
	}
	return jumps
}
