package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/percolate-dev/percolate-core/internal/config"
	"github.com/percolate-dev/percolate-core/internal/percolog"
	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Exit codes: 0 success, 1 user error (bad flags, validation failure),
// 2 system error (storage or replication failure).
const (
	exitOK          = 0
	exitUserError   = 1
	exitSystemError = 2
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to this CLI's exit-code convention by
// inspecting its perrors.Kind when present.
func exitCodeFor(err error) int {
	kind, ok := perrors.KindOf(err)
	if !ok {
		return exitSystemError
	}
	switch kind {
	case perrors.KindSchemaInvalid, perrors.KindSchemaUnknown, perrors.KindSchemaConflict,
		perrors.KindValidationFailed, perrors.KindBadQuery, perrors.KindNotFound:
		return exitUserError
	default:
		return exitSystemError
	}
}

var handle *Handle

var rootCmd = &cobra.Command{
	Use:   "percolate",
	Short: "Percolate - embedded, multi-tenant knowledge database core",
	Long: `Percolate is a single-node, embedded knowledge database: a
storage/indexing engine with schema-driven entity and edge indexes, an
HNSW vector index, an inverted BM25 index, a SQL-subset query planner and
executor, a write-ahead log, and primary/follower streaming replication.`,
	Version:           Version,
	PersistentPreRunE: openHandle,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if handle != nil {
			_ = handle.Close()
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("percolate version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("db-path", "", "database directory (env P8_DB_PATH)")
	rootCmd.PersistentFlags().String("tenant-id", "", "tenant id (env P8_TENANT_ID)")
	rootCmd.PersistentFlags().String("mode", "primary", "primary or follower (env P8_REPLICATION_MODE)")
	rootCmd.PersistentFlags().String("embedding-provider", "", "default embedding provider (env P8_DEFAULT_EMBEDDING_PROVIDER)")
	rootCmd.PersistentFlags().String("replication-primary", "", "primary address, required in follower mode (env P8_REPLICATION_PRIMARY)")
	rootCmd.PersistentFlags().Int("wal-retention-hours", 0, "WAL retention in hours, 0 keeps the default (env P8_WAL_RETENTION_HOURS)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(
		openCmd,
		schemaCmd,
		insertCmd, updateCmd, deleteCmd, getCmd, lookupCmd, searchCmd, queryCmd, traverseCmd,
		edgeCmd,
		exportCmd, ingestCmd,
		serveCmd, replicateCmd, walStatusCmd,
		vacuumCmd,
	)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	percolog.Init(percolog.Config{Level: percolog.Level(logLevel), JSONOutput: logJSON})
}

// buildConfig assembles a config.Config from persistent flags, then
// overlays it with any P8_* environment variables that are set, so an
// env var always wins over a flag's default but an explicit flag still
// wins over an unset env var.
func buildConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()

	if v, _ := cmd.Flags().GetString("db-path"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("tenant-id"); v != "" {
		cfg.TenantID = v
	}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		cfg.Mode = config.Mode(v)
	}
	if v, _ := cmd.Flags().GetString("embedding-provider"); v != "" {
		cfg.DefaultEmbeddingProvider = v
	}
	if v, _ := cmd.Flags().GetString("replication-primary"); v != "" {
		cfg.ReplicationPrimaryAddr = v
	}
	if v, _ := cmd.Flags().GetInt("wal-retention-hours"); v > 0 {
		cfg.WALRetention = time.Duration(v) * time.Hour
	}

	cfg = config.FromEnv(cfg)
	return cfg
}

// openHandle is the root command's PersistentPreRunE: every subcommand
// operates against one already-open Handle built once here, rather than
// each leaf command opening its own store.
func openHandle(cmd *cobra.Command, args []string) error {
	// "open" itself validates and creates the store but the CLI doesn't
	// keep a separate verb for it beyond the config dry-run below; every
	// other command needs a live Handle regardless of which leaf runs.
	cfg := buildConfig(cmd)
	if cfg.DBPath == "" {
		return nil // allow `percolate --help` and similar without a db path
	}
	h, err := Open(cfg)
	if err != nil {
		return err
	}
	handle = h
	return nil
}

func requireHandle() (*Handle, error) {
	if handle == nil {
		return nil, perrors.BadQuery("no database open: pass --db-path and --tenant-id")
	}
	return handle, nil
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Validate configuration and open (or create) the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		fmt.Printf("opened %s (tenant=%s mode=%s)\n", h.cfg.DBPath, h.cfg.TenantID, h.cfg.Mode)
		return nil
	},
}
