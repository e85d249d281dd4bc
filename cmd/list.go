package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every person in the gallery",
	Run: func(cmd *cobra.Command, args []string) {
		runList(os.Stdout, gallery.New(cfg.DatasetDir))
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(out io.Writer, g *gallery.Gallery) {
	people, err := g.Summary()
	if err != nil {
		utils.Die("Failed to list the gallery", err, nil)
	}

	if len(people) == 0 {
		fmt.Fprintln(out, "No people in the gallery yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tEXAMPLES")
	fmt.Fprintln(w, "----\t--------")

	for _, p := range people {
		fmt.Fprintf(w, "%s\t%d\n", p.Name, p.Examples)
	}
	w.Flush()
}
