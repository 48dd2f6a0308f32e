package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newMigrateCommand(env Env, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	withMigrator := func(fn func(Migrator) error) error {
		m, err := env.OpenMigrator(flags.dsn)
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(m)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m Migrator) error { return m.Up() })
		},
	}, &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations; all of them when steps is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withMigrator(func(m Migrator) error { return m.Down(steps) })
		},
	}, &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					fmt.Fprintf(cmd.OutOrStdout(), "%d (dirty)\n", version)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", version)
				return nil
			})
		},
	})
	return cmd
}
