package main

import (
	"errors"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// violationsFound makes the process exit with status 2.
type violationsFound struct {
	count int
}

func (e *violationsFound) Error() string {
	return fmt.Sprintf("%d ledger violation(s) found", e.count)
}

type dbOpener func() (*gorm.DB, error)

func openDatabase() (*gorm.DB, error) {
	if os.Getenv("DB_HOST") == "" {
		return nil, errors.New("database is not configured; set the DB_* environment variables")
	}
	return config.OpenDatabase(config.DatabaseDSN())
}

func newRootCommand(open dbOpener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledger-audit",
		Short:         "Consistency checks for the stock ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.AddCommand(newCheckCommand(open))
	return rootCmd
}

func newCheckCommand(open dbOpener) *cobra.Command {
	var (
		xlsxPath string
		opts     auditOptions
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "List stocks whose reserved quantity breaks the ledger rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			violations, err := auditLedger(cmd.Context(), db, opts)
			if err != nil {
				return fmt.Errorf("audit ledger: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(violations) == 0 {
				fmt.Fprintln(out, "No ledger violations found.")
			} else {
				fmt.Fprintln(out, renderTable(violations))
			}
			if xlsxPath != "" {
				if err := writeXLSX(xlsxPath, violations); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s\n", xlsxPath)
			}
			if len(violations) > 0 {
				return &violationsFound{count: len(violations)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the violations to this .xlsx file")
	cmd.Flags().IntVar(&opts.WarehouseId, "warehouse", 0, "Only check stocks of this warehouse")
	cmd.Flags().BoolVar(&opts.SkipAllocations, "skip-allocations", false, "Do not compare reserved quantity with order allocations")
	return cmd
}
