package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jjhenkel/sqltoolsservice"
	"github.com/jjhenkel/sqltoolsservice/internal/db"
	"github.com/jjhenkel/sqltoolsservice/internal/formatter"
)

var (
	serverDSN        string
	serverName       string
	excludeDatabases string
	excludeSchemas   string
	excludeTables    string
	excludeViews     string
	noDefaults       bool
	pruneEmpty       bool
	forceRefresh     bool
	ttl              time.Duration
	cacheDir         string
	outputFile       string
	format           string
	logLevel         string
	pretty           bool
)

var rootCmd = &cobra.Command{
	Use:   "sqlcontext",
	Short: "Produce a compact SQL Server catalog snapshot for LLM context",
	Long: `sqlcontext connects to a SQL Server instance, walks its catalog
(databases, schemas, tables, views, columns, foreign keys), and emits a
compact hierarchical snapshot. Snapshots are cached on disk per server and
exclusion configuration with time-based invalidation.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&serverDSN, "server", "", "SQL Server connection string (sqlserver://...)")
	rootCmd.Flags().StringVar(&serverName, "server-name", "", "Server identity used for the cache key (default: host from --server)")
	rootCmd.Flags().StringVar(&excludeDatabases, "exclude-databases", "", "Databases to exclude (comma-separated)")
	rootCmd.Flags().StringVar(&excludeSchemas, "exclude-schemas", "", "Schemas to exclude (comma-separated)")
	rootCmd.Flags().StringVar(&excludeTables, "exclude-tables", "", "Tables to exclude (comma-separated)")
	rootCmd.Flags().StringVar(&excludeViews, "exclude-views", "", "Views to exclude (comma-separated)")
	rootCmd.Flags().BoolVar(&noDefaults, "no-default-exclusions", false, "Disable the built-in system object exclusions")
	rootCmd.Flags().BoolVar(&pruneEmpty, "prune-empty", false, "Remove databases, schemas, tables, and views with no children")
	rootCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "Rebuild even when a fresh cached snapshot exists")
	rootCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Cache staleness threshold")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: under the system temp directory)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or text")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print log output")
}

func run(cmd *cobra.Command, args []string) error {
	if serverDSN == "" {
		return fmt.Errorf("--server must be specified")
	}

	logger := newLogger(logLevel, pretty)
	ctx := context.Background()

	client, err := db.NewMSSQLClient(ctx, serverDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to SQL Server: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close connection")
		}
	}()

	registry := db.NewRegistry()
	sessionID := registry.Register(client)

	svc := sqltoolsservice.NewService(registry, &sqltoolsservice.ServiceConfig{
		CacheDir: cacheDir,
		Logger:   &logger,
	})

	result := <-svc.Dispatch(ctx, &sqltoolsservice.Request{
		ServerName: serverIdentity(serverDSN, serverName),
		SessionID:  sessionID,
		Options: &sqltoolsservice.Options{
			PruneEmptyNodes:          pruneEmpty,
			DisableDefaultExclusions: noDefaults,
			ExcludeDatabases:         splitList(excludeDatabases),
			ExcludeSchemas:           splitList(excludeSchemas),
			ExcludeTables:            splitList(excludeTables),
			ExcludeViews:             splitList(excludeViews),
		},
		ForceRefresh: forceRefresh,
		TTL:          ttl,
	})
	if result.Err != nil {
		return fmt.Errorf("failed to get catalog context: %w", result.Err)
	}

	writer := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close output file")
			}
		}()
		writer = f
	}

	switch format {
	case "json":
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Tree); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	case "text":
		if err := formatter.NewTextFormatter(writer).Format(result.Tree); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	default:
		return fmt.Errorf("invalid format: %s (must be 'json' or 'text')", format)
	}

	return nil
}

func newLogger(level string, pretty bool) zerolog.Logger {
	parsed := zerolog.WarnLevel
	switch level {
	case "debug":
		parsed = zerolog.DebugLevel
	case "info":
		parsed = zerolog.InfoLevel
	case "warn":
		parsed = zerolog.WarnLevel
	case "error":
		parsed = zerolog.ErrorLevel
	}

	var writer io.Writer = os.Stderr
	if pretty {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
}

// serverIdentity picks the identity the cache key is derived from: an
// explicit override, the host from the connection URL, or the raw
// connection string when it does not parse as a URL.
func serverIdentity(dsn, override string) string {
	if override != "" {
		return override
	}
	if u, err := url.Parse(dsn); err == nil && u.Host != "" {
		return u.Host
	}
	return dsn
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
