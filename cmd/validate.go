package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spineflow/engine/engine"
	"github.com/spineflow/engine/internal/engine/connection"
	"github.com/spineflow/engine/internal/engine/item"
	"github.com/spineflow/engine/internal/engine/resource"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project file>",
		Short: "Validates a project's DAG without executing it",
		Long:  "spineflow validate <project file> builds the topology and jump structure from the project description and reports any invariant violation, without running any item.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := buildLogger()
			defer log.Sync() //nolint:errcheck

			if _, err := loadConfig(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			pf, err := loadProjectFile(args[0])
			if err != nil {
				return err
			}
			log.Debug("loaded project file", zap.String("path", args[0]), zap.Int("items", len(pf.Items)))

			items := make([]engine.ItemSpec, 0, len(pf.Items))
			for _, it := range pf.Items {
				items = append(items, engine.ItemSpec{Name: it.Name, Type: it.Type, Dict: it.Dict})
			}

			cfg := engine.Config{
				Items:       items,
				Connections: pf.connections(),
				Jumps:       pf.jumps(),
				Factory:     dryFactory,
				ListFilters: noOnlineFilters,
			}

			if _, err := engine.New(cmd.Context(), cfg); err != nil {
				color.Red("invalid project: %v", err)
				return err
			}
			color.Green("project is valid: %d items, %d connections, %d jumps", len(items), len(pf.Connections), len(pf.Jumps))
			return nil
		},
	}
}

// dryFactory builds a no-op item for topology validation: it is never
// executed, only constructed, so New can assemble the full schedule.
func dryFactory(ctx context.Context, itemType string, dict map[string]any, name, projectDir string, settings, specs map[string]any, logger item.Logger, dbProxy item.DBProxy) (item.ExecutableItem, error) {
	return &dryItem{}, nil
}

type dryItem struct{}

func (d *dryItem) ReadyToExecute(map[string]any) bool { return true }
func (d *dryItem) Execute(ctx context.Context, forward, backward []*resource.Resource, lock item.Locker) (item.FinishState, error) {
	return item.Success, fmt.Errorf("validate: items are never executed")
}
func (d *dryItem) ExcludeExecution(ctx context.Context, forward, backward []*resource.Resource, lock item.Locker) {
}
func (d *dryItem) OutputResources(direction string) []*resource.Resource { return nil }
func (d *dryItem) Update(forward, backward []*resource.Resource)         {}
func (d *dryItem) StopExecution()                                       {}
func (d *dryItem) ItemType() string                                     { return "dry" }
func (d *dryItem) IsFilterTerminus() bool                               { return false }

func noOnlineFilters(ctx context.Context, conn *connection.Connection, r *resource.Resource) ([]string, error) {
	return nil, nil
}
