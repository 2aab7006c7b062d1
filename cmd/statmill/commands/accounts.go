package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/export"
)

// NewAccountsCommand creates the accounts command group.
func NewAccountsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage player accounts",
	}

	cmd.AddCommand(
		newAccountsExportCommand(env),
		newAccountsImportCommand(env),
		newAccountsRemoveCommand(env),
		newAccountsEditCommand(env),
	)

	return cmd
}

func newAccountsExportCommand(env *Env) *cobra.Command {
	var (
		file        string
		regionNames []string
		disabled    string
		inactive    string
		sample      float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export accounts to a txt, csv or json file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			regions, err := parseRegions(regionNames)
			if err != nil {
				return err
			}

			disabledOpt, err := parseOptBool(disabled)
			if err != nil {
				return err
			}

			inactiveOpt, err := parseOptBool(inactive)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			if file == "" {
				file = env.cfg.Accounts.ExportFile
			}

			counter, err := export.Accounts(ctx, db, backend.AccountFilter{
				Regions:  regions,
				Disabled: disabledOpt,
				Inactive: inactiveOpt,
				Sample:   backend.Sample(sample),
			}, file)

			env.report(cmd, counter)

			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "output file (format by extension)")
	cmd.Flags().StringSliceVar(&regionNames, "region", nil, "regions to export (default: api regions)")
	cmd.Flags().StringVar(&disabled, "disabled", "any", "filter by disabled: any, yes, no")
	cmd.Flags().StringVar(&inactive, "inactive", "any", "filter by inactive: any, yes, no")
	cmd.Flags().Float64Var(&sample, "sample", 0, "fraction (<1) or absolute count (>=1) of accounts")

	return cmd
}

func newAccountsImportCommand(env *Env) *cobra.Command {
	var (
		file      string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import accounts from a txt, csv or json file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			counter, err := export.ImportAccounts(ctx, db, file, batchSize)

			env.report(cmd, counter)

			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "input file (format by extension)")
	cmd.Flags().IntVar(&batchSize, "batch", 500, "insert batch size")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newAccountsRemoveCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove accounts by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			for _, id := range ids {
				if err := db.AccountDelete(ctx, id); err != nil {
					return fmt.Errorf("removing account %d: %w", id, err)
				}
			}

			return nil
		},
	}

	return cmd
}

func newAccountsEditCommand(env *Env) *cobra.Command {
	var (
		disabled string
		inactive string
	)

	cmd := &cobra.Command{
		Use:   "edit ID...",
		Short: "Edit the disabled/inactive flags of accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			disabledOpt, err := parseOptBool(disabled)
			if err != nil {
				return err
			}

			inactiveOpt, err := parseOptBool(inactive)
			if err != nil {
				return err
			}

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			for _, id := range ids {
				account, err := db.AccountGet(ctx, id)
				if err != nil {
					return fmt.Errorf("account %d: %w", id, err)
				}

				fields := make([]string, 0, 2)

				if disabledOpt != backend.BothOpt {
					account.Disabled = disabledOpt == backend.TrueOpt
					fields = append(fields, "disabled")
				}

				if inactiveOpt != backend.BothOpt {
					account.Inactive = inactiveOpt == backend.TrueOpt
					fields = append(fields, "inactive")
				}

				if len(fields) == 0 {
					continue
				}

				if err := db.AccountUpdate(ctx, account, fields); err != nil {
					return fmt.Errorf("updating account %d: %w", id, err)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&disabled, "disabled", "any", "set disabled: yes or no")
	cmd.Flags().StringVar(&inactive, "inactive", "any", "set inactive: yes or no")

	return cmd
}

// parseIDs converts positional account-id arguments.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))

	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: account id %q", errBadFlag, arg)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
