package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridscrape/coordinator/internal/database"
)

// migrateCommand creates the coordination tables.
func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the coordination tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.EnsureSchema(cmd.Context(), a.db); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}
