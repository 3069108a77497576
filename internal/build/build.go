// Copyright (c) 2026 The Spineflow Authors

// Package build holds version metadata stamped in at link time.
package build

import "strings"

var (
	Version = "dev"
	AppName = "spineflow"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
