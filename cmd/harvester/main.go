package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/internal/pipeline"
	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/provider"

	// Register every provider
	_ "github.com/ajitpratap0/harvester/pkg/provider/bigquery"
	_ "github.com/ajitpratap0/harvester/pkg/provider/mongodb"
	_ "github.com/ajitpratap0/harvester/pkg/provider/sqlinfo"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "harvester",
		Short: "Harvester - incremental metadata harvesting",
		Long: `Harvester walks the catalogs, schemas, tables and views of a data source,
emits normalized metadata records to a sink and marks entities that disappeared
since the previous run as deleted.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newVersionCmd(),
		newProvidersCmd(),
		newValidateCmd(v),
		newRunCmd(v),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Harvester v%s\n", pipeline.Version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List available introspection providers",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Providers:")
			for _, info := range provider.List() {
				fmt.Fprintf(out, "  - %-10s %s\n", info.Name, info.Description)
			}
		},
	}
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if !provider.Has(cfg.Source.Type) {
				return fmt.Errorf("unknown source type %q", cfg.Source.Type)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: service %s, source %s, sink %s\n",
				cfg.Service.Name, cfg.Source.Type, cfg.Sink.Type)
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest",
		Long: `Run one harvest with the given YAML configuration.
Flags override the file; every flag can also be set as HARVESTER_<FLAG>.

Example:
  harvester run --config harvest.yaml --sink-path ./out --log-level debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cfg, v.GetDuration("timeout"), cmd.OutOrStdout())
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().Duration("timeout", 0, "Abort the run after this long (0 = no limit)")
	return cmd
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to the YAML run configuration (required)")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "", "Log encoding (json, console)")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics on this address during the run")
	cmd.Flags().String("sink-type", "", "Sink type (memory, file, catalogdb)")
	cmd.Flags().String("sink-path", "", "Output directory of the file sink")
}

// loadConfig reads the file named by --config and applies flag and
// environment overrides before validating.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("--config or HARVESTER_CONFIG is required")
	}
	cfg := config.NewConfig("", "")
	if err := config.Load(path, cfg); err != nil {
		return nil, err
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{"log-level", &cfg.Observability.LogLevel},
		{"log-format", &cfg.Observability.LogFormat},
		{"metrics-addr", &cfg.Observability.MetricsAddr},
		{"sink-type", &cfg.Sink.Type},
		{"sink-path", &cfg.Sink.Path},
	}
	for _, o := range overrides {
		if s := v.GetString(o.key); s != "" {
			*o.dst = s
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runHarvest(ctx context.Context, cfg *config.Config, timeout time.Duration, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogFormat,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(
		zap.String("component", "harvester-cli"),
		zap.String("service", cfg.Service.Name),
		zap.String("source", cfg.Source.Type),
		zap.String("sink", cfg.Sink.Type))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runner, err := pipeline.NewRunner(cfg, pipeline.WithLogger(log))
	if err != nil {
		return err
	}

	start := time.Now()
	summary, runErr := runner.Run(ctx)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Warn("failed to print summary", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("harvest %s failed after %s: %w", summary.RunID, time.Since(start).Round(time.Millisecond), runErr)
	}
	return nil
}
