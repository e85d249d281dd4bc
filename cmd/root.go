package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/lookout/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// cfg is resolved from defaults, then the environment, then flags
	cfg = config.FromEnv()
	// Models is the classifier store shared by subcommands
	Models ModelStore
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "lookout",
	Short:   "Face detection and recognition against a local gallery of known people",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		log.SetLevel(level)

		if err := cfg.Validate(); err != nil {
			return err
		}

		// Use the command's context (which will be cancellable) for the connection
		Models, err = openModelStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to open classifier store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Models != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			Models.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ModelsDir, "models", cfg.ModelsDir, "Directory holding the detector and embedder weights")
	flags.StringVar(&cfg.DatasetDir, "dataset", cfg.DatasetDir, "Gallery root, one directory per person")
	flags.StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "Directory for the trained classifier")
	flags.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "PostgreSQL connection string; stores the classifier in the database instead of the cache directory")
	flags.Float64VarP(&cfg.Confidence, "confidence", "c", cfg.Confidence, "Minimum face detection confidence")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
}
