package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the recognizer from every example in the gallery",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runTrain(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(ctx context.Context) error {
	eng := loadEngine(ctx, cfg, Models)
	defer eng.Close()

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("🧠 Embedding examples"),
				progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
				progressbar.OptionShowCount(),
			)
		}
		bar.Set(done)
	}

	stats, err := eng.train(ctx, progress)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		utils.ShowError("Training failed", err, nil)
		return err
	}

	fmt.Printf("✅ Trained on %d examples of %d people: %s\n", stats.Examples, len(stats.People), strings.Join(stats.People, ", "))
	if stats.Skipped > 0 {
		fmt.Printf("⚠️  Skipped %d unreadable examples\n", stats.Skipped)
	}
	return nil
}
