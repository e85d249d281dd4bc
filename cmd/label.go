package cmd

import (
	"fmt"

	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <old_name> <new_name>",
	Short: "Rename a person in the gallery",
	Long:  "Moves every example of a person under a new name. Run train afterwards so the recognizer uses it.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runLabel(gallery.New(cfg.DatasetDir), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(g *gallery.Gallery, oldName, newName string) {
	if err := g.Rename(oldName, newName); err != nil {
		utils.Die("Failed to rename person", err, nil)
	}

	fmt.Printf("✅ '%s' is now labeled as '%s'. Run 'lookout train' to update the recognizer.\n", oldName, newName)
}
