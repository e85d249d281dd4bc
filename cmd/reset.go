package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetModel   bool
	resetDataset bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (trained classifier, gallery)",
	Long:  "Clears stored data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetModel && !resetDataset {
			resetModel = true
			resetDataset = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetModel {
			if confirm(reader, "⚠️  Are you sure you want to delete the trained classifier?") {
				fmt.Println("🗑️  Clearing Classifier...")
				if err := Models.Delete(cmd.Context()); err != nil {
					utils.Die("Failed to delete classifier", err, nil)
				}
			}
		}

		if resetDataset {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete every remembered face in %s?", cfg.DatasetDir)) {
				fmt.Println("🗑️  Clearing Gallery...")
				removeDir(cfg.DatasetDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetModel, "model", false, "Delete the trained classifier")
	resetCmd.Flags().BoolVar(&resetDataset, "dataset", false, "Delete the gallery of remembered faces")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
