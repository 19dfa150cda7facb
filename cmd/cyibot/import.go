package main

import (
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/cyibot/internal/directory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	importCSV    string
	importDB     string
	importTable  string
	importDriver string
)

var importCmd = &cobra.Command{
	Use:   "import-directory",
	Short: "Load a CSV export of the contact directory into the database",
	Long: `Import-directory replaces the directory table with the rows of a CSV
export of the directory spreadsheet. The header row names the columns.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		driver := firstNonEmpty(importDriver, cfg.Directory.Driver)
		if driver == "memory" {
			return fmt.Errorf("the memory directory reads its CSV at startup; nothing to import")
		}
		dsn := firstNonEmpty(importDB, cfg.Directory.DSN)
		table := firstNonEmpty(importTable, cfg.Directory.Table)

		f, err := os.Open(importCSV)
		if err != nil {
			return fmt.Errorf("failed to open CSV: %w", err)
		}
		defer f.Close()

		db, err := directory.Open(cmd.Context(), driver, dsn, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := directory.ImportCSV(cmd.Context(), db, f, table, driver, logger)
		if err != nil {
			return err
		}
		logger.Info("import complete", zap.String("table", table), zap.Int("rows", n))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s\n", n, table)
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importCSV, "csv", "", "Path to the directory CSV export")
	importCmd.Flags().StringVar(&importDB, "db", "", "Database DSN (defaults to DIRECTORY_DSN)")
	importCmd.Flags().StringVar(&importTable, "table", "", "Table name (defaults to DIRECTORY_TABLE)")
	importCmd.Flags().StringVar(&importDriver, "driver", "", "sqlite3 or postgres (defaults to DIRECTORY_DRIVER)")
	_ = importCmd.MarkFlagRequired("csv")
}
