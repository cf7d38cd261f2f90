package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/example/hostcore/internal/cache"
	"github.com/example/hostcore/internal/config"
	"github.com/example/hostcore/internal/database"
	"github.com/example/hostcore/internal/logger"
	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/services"
)

func main() {
	_ = godotenv.Load()

	var dsn string

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the hostcore database schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")

	rootCmd.AddCommand(upCmd(&dsn))
	rootCmd.AddCommand(downCmd(&dsn))
	rootCmd.AddCommand(gotoCmd(&dsn))
	rootCmd.AddCommand(forceCmd(&dsn))
	rootCmd.AddCommand(versionCmd(&dsn))
	rootCmd.AddCommand(grantRoleCmd(&dsn))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withMigrator(dsn *string, fn func(m *migrate.Migrate) error) error {
	if *dsn == "" {
		return errors.New("database url is required (set DATABASE_URL or --database-url)")
	}

	m, err := database.NewMigrator(*dsn)
	if err != nil {
		return err
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			fmt.Fprintf(os.Stderr, "closing migrator: %v, %v\n", sourceErr, dbErr)
		}
	}()

	return fn(m)
}

func upCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(dsn, func(m *migrate.Migrate) error {
				err := m.Up()
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Println("no change: schema is up to date")
					return nil
				}
				if err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func downCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return withMigrator(dsn, func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil {
					return fmt.Errorf("roll back %d migration(s): %w", steps, err)
				}
				fmt.Printf("rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
}

func gotoCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "goto [version]",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withMigrator(dsn, func(m *migrate.Migrate) error {
				err := m.Migrate(uint(version))
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Printf("no change: already at version %d\n", version)
					return nil
				}
				if err != nil {
					return fmt.Errorf("migrate to version %d: %w", version, err)
				}
				fmt.Printf("migrated to version %d\n", version)
				return nil
			})
		},
	}
}

func forceCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "force [version]",
		Short: "Set the schema version without running migrations and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withMigrator(dsn, func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version %d: %w", version, err)
				}
				fmt.Printf("forced version %d\n", version)
				return nil
			})
		},
	}
}

func versionCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"status"},
		Short:   "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(dsn, func(m *migrate.Migrate) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Println("no migrations applied yet")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read version: %w", err)
				}
				suffix := ""
				if dirty {
					suffix = " (dirty)"
				}
				fmt.Printf("version %d%s\n", version, suffix)
				return nil
			})
		},
	}
}

func grantRoleCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role [email] [role]",
		Short: "Grant a role (default admin) to an existing account",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *dsn == "" {
				return errors.New("database url is required (set DATABASE_URL or --database-url)")
			}
			role := models.RoleAdmin
			if len(args) == 2 {
				role = args[1]
			}

			cfg := config.Load()
			log := logger.ForEnv("hostcore-migrate", cfg.IsDevelopment())
			defer func() { _ = log.Sync() }()

			rdb := cache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
			if rdb != nil {
				defer rdb.Close()
			}

			roles := services.NewRoleService(repository.New(database.Connect(*dsn, log, false)), rdb, log)
			user, err := roles.GrantByEmail(cmd.Context(), args[0], role)
			if err != nil {
				return fmt.Errorf("grant %s to %s: %w", role, args[0], err)
			}
			fmt.Printf("granted %s to %s (%s)\n", role, user.Email, user.ID)
			return nil
		},
	}
}
