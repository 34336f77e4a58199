package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/facet-io/facet/config"
	"github.com/facet-io/facet/db"
	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/logger"
	"github.com/facet-io/facet/storage"
)

var (
	configFlag  string
	dsnFlag     string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "facet - Catalog persistence engine",
	Long: `facet - Transactional persistence for entity catalogs.

Catalogs group entities into named hierarchies (lists, sets, directories,
trees, and aspect maps) and persist atomically into a relational backend.

Examples:
  facet migrate                 # Apply schema migrations
  facet exists <catalog-id>     # Probe whether a catalog is stored
  facet delete <catalog-id>     # Remove a catalog and everything it owns
  facet stats                   # Show stored catalog statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verboseFlag {
			if err := logger.SetVerbose(); err != nil {
				return fmt.Errorf("failed to enable verbose logging: %w", err)
			}
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runMigrate,
}

var existsCmd = &cobra.Command{
	Use:   "exists <catalog-id>",
	Short: "Probe whether a catalog is stored",
	Args:  cobra.ExactArgs(1),
	RunE:  runExists,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <catalog-id>",
	Short: "Remove a catalog and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored catalog statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "Override the configured database DSN")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug output")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.LoadFromFile(configFlag)
	}
	return config.Load()
}

// openDatabase opens the configured backend and, for SQLite, applies
// pending migrations. Postgres schemas are provisioned externally.
func openDatabase() (*sql.DB, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to load configuration")
	}
	dsn := cfg.Database.DSN
	if dsnFlag != "" {
		dsn = dsnFlag
	}

	database, err := db.Open(cfg.Database.Driver, dsn, logger.Logger)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open database at %s", dsn)
	}
	if cfg.Database.Driver == "sqlite3" {
		if err := db.Migrate(database, logger.Logger); err != nil {
			database.Close()
			return nil, "", errors.Wrapf(err, "failed to run migrations on %s", dsn)
		}
	}
	return database, cfg.Database.Driver, nil
}

func openStore() (*storage.CatalogStore, *sql.DB, error) {
	database, driver, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}
	dialect, err := storage.DialectFor(driver)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return storage.NewCatalogStore(database, dialect, nil, logger.Logger), database, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Migrations applied")
	return nil
}

func runExists(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid catalog id %q", args[0])
	}

	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	exists, err := store.CatalogExists(cmd.Context(), id)
	if err != nil {
		return err
	}
	if exists {
		fmt.Printf("Catalog %s exists\n", id)
		return nil
	}
	fmt.Printf("Catalog %s not found\n", id)
	os.Exit(1)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid catalog id %q", args[0])
	}

	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	removed, err := store.DeleteCatalog(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("Catalog %s not found, nothing deleted\n", id)
		return nil
	}
	fmt.Printf("Catalog %s deleted\n", id)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	var catalogs, entities, hierarchies, aspects int
	row := database.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM catalog),
			(SELECT COUNT(*) FROM entity),
			(SELECT COUNT(*) FROM hierarchy),
			(SELECT COUNT(*) FROM aspect)`)
	if err := row.Scan(&catalogs, &entities, &hierarchies, &aspects); err != nil {
		return errors.Wrap(err, "failed to query statistics")
	}

	fmt.Println("Storage statistics:")
	fmt.Printf("  Catalogs:    %d\n", catalogs)
	fmt.Printf("  Entities:    %d\n", entities)
	fmt.Printf("  Hierarchies: %d\n", hierarchies)
	fmt.Printf("  Aspects:     %d\n", aspects)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
