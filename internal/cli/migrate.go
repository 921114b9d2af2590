package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations",
		Long: `Apply every pending schema migration for the configured store.

Running it again is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			st, err := cfg.Store.OpenStore(cmd.Context())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			migrateErr := st.Migrate(cmd.Context())
			if err := errors.Join(migrateErr, st.Close()); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Store.Driver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Store.Driver)
			return nil
		},
	}
}
