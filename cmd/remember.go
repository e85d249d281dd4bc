package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/lookout/internal/source"
	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/andresmejia3/lookout/internal/viewer"
	"github.com/spf13/cobra"
)

// RememberOptions describes one click on an image.
type RememberOptions struct {
	Name string
	X, Y int
}

var rememberOpts RememberOptions

var rememberCmd = &cobra.Command{
	Use:   "remember <image_path>",
	Short: "Store the face under (x, y) in an image as an example of a person",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRemember(cmd.Context(), args[0], rememberOpts)
	},
}

func init() {
	rememberCmd.Flags().StringVarP(&rememberOpts.Name, "name", "n", "", "Person the face belongs to")
	rememberCmd.Flags().IntVar(&rememberOpts.X, "x", 0, "Click x coordinate in image pixels")
	rememberCmd.Flags().IntVar(&rememberOpts.Y, "y", 0, "Click y coordinate in image pixels")

	rememberCmd.MarkFlagRequired("name")
	rememberCmd.MarkFlagRequired("x")
	rememberCmd.MarkFlagRequired("y")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(ctx context.Context, imagePath string, opts RememberOptions) error {
	src, err := source.OpenImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image", err, nil)
		return err
	}
	defer src.Close()

	eng := loadEngine(ctx, cfg, Models)
	defer eng.Close()

	p := eng.pipeline(cfg)
	defer p.Close()

	session := viewer.NewSession(src, p, eng.gallery, nil)
	defer session.Close()

	if _, err := session.Step(); err != nil {
		utils.ShowError("Failed to process image", err, nil)
		return err
	}

	for _, ev := range []viewer.Event{
		{Kind: viewer.SetName, Name: opts.Name},
		{Kind: viewer.Click, X: opts.X, Y: opts.Y},
	} {
		reply, err := session.Handle(ctx, ev)
		if err == nil {
			err = reply.Err
		}
		if err != nil {
			utils.ShowError(fmt.Sprintf("Failed to remember %s", opts.Name), err, nil)
			return err
		}
		if ev.Kind == viewer.Click {
			if !reply.Hit {
				err := errors.New("no face at that position")
				utils.ShowError(fmt.Sprintf("Nothing to remember at (%d, %d)", opts.X, opts.Y), err, nil)
				return err
			}
			fmt.Printf("✅ Remembered %s: %s\n", opts.Name, reply.Path)
		}
	}
	return nil
}
