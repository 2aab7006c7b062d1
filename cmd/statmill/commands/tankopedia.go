package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
)

// NewTankopediaCommand creates the tankopedia command group.
func NewTankopediaCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tankopedia",
		Short: "Manage tank metadata",
	}

	cmd.AddCommand(
		newTankopediaUpdateCommand(env),
		newTankopediaListCommand(env),
		newTankopediaExportCommand(env),
	)

	return cmd
}

func newTankopediaUpdateCommand(env *Env) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Load tank metadata from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening tankopedia file: %w", err)
			}
			defer f.Close()

			var tanks []models.Tank

			if err := json.NewDecoder(f).Decode(&tanks); err != nil {
				return fmt.Errorf("decoding tankopedia: %w", err)
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			counter := eventcounter.New("tankopedia update")

			for i := range tanks {
				// --force replaces existing entries.
				if err := db.TankInsert(ctx, &tanks[i], env.force); err != nil {
					counter.Log("errors")

					continue
				}

				counter.Log("updated")
			}

			env.report(cmd, counter)

			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "tankopedia JSON file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newTankopediaExportCommand(env *Env) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored tankopedia to a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			tanks, err := db.TankopediaGet(ctx)
			if err != nil {
				return err
			}

			f, err := os.Create(file)
			if err != nil {
				return fmt.Errorf("creating tankopedia file: %w", err)
			}
			defer f.Close()

			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")

			if err := enc.Encode(tanks); err != nil {
				return err
			}

			counter := eventcounter.New("tankopedia export")
			counter.Add("written", int64(len(tanks)))
			env.report(cmd, counter)

			return f.Sync()
		},
	}

	cmd.Flags().StringVar(&file, "file", "tanks.json", "output JSON file")

	return cmd
}

func newTankopediaListCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored tanks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			tanks, err := db.TankopediaGet(ctx)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"tank_id", "name", "nation", "tier", "type", "premium"})

			for _, tank := range tanks {
				t.AppendRow(table.Row{tank.TankID, tank.Name, tank.Nation, tank.Tier, tank.Type, tank.IsPremium})
			}

			t.Render()

			return nil
		},
	}

	return cmd
}
