package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/lookout/internal/recognizer"
	"github.com/andresmejia3/lookout/internal/source"
	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/andresmejia3/lookout/internal/viewer"
	"github.com/andresmejia3/lookout/internal/web"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// WatchOptions selects the frame source and the presenter of the watch command.
type WatchOptions struct {
	Camera    int
	InputPath string
	UI        string
	Addr      string
	Name      string
}

var watchOpts WatchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Detect and recognize faces live from a camera, video or image",
	Long: `Shows every frame with a box around each face, its detection confidence and who it is.
In the web UI, assume a name and click a face to remember it, then train.
In the window UI, press t to train and Esc to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateWatchFlags(cmd, &watchOpts); err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), watchOpts)
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchOpts.Camera, "camera", 0, "Capture device index")
	watchCmd.Flags().StringVarP(&watchOpts.InputPath, "input", "i", "", "Image or video file to watch instead of a camera")
	watchCmd.Flags().StringVar(&watchOpts.UI, "ui", "web", "Presenter: web or window")
	watchCmd.Flags().StringVar(&watchOpts.Addr, "addr", cfg.WebAddr, "Listen address of the web UI")
	watchCmd.Flags().StringVarP(&watchOpts.Name, "name", "n", "", "Name to assume from the start")
	rootCmd.AddCommand(watchCmd)
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// validateWatchFlags ensures the flags are consistent before any model is loaded.
func validateWatchFlags(cmd *cobra.Command, opts *WatchOptions) error {
	if opts.InputPath != "" && cmd.Flags().Changed("camera") {
		return errors.New("--camera and --input are mutually exclusive")
	}
	if opts.InputPath != "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory", opts.InputPath)
		}
	}
	if opts.Camera < 0 {
		return fmt.Errorf("camera index must be >= 0, got %d", opts.Camera)
	}
	switch opts.UI {
	case "web", "window":
	default:
		return fmt.Errorf("unknown ui %q, want web or window", opts.UI)
	}
	return nil
}

func openSource(opts WatchOptions) (source.Source, error) {
	if opts.InputPath == "" {
		return source.OpenCamera(opts.Camera)
	}
	if imageExts[strings.ToLower(filepath.Ext(opts.InputPath))] {
		return source.OpenImage(opts.InputPath)
	}
	return source.OpenVideo(opts.InputPath)
}

func runWatch(ctx context.Context, opts WatchOptions) error {
	eng := loadEngine(ctx, cfg, Models)
	defer eng.Close()

	src, err := openSource(opts)
	if err != nil {
		utils.Die("Failed to open frame source", err, nil)
	}
	defer src.Close()

	p := eng.pipeline(cfg)
	defer p.Close()

	var presenter viewer.Presenter
	switch opts.UI {
	case "window":
		presenter = viewer.NewWindow("lookout")
	default:
		srv := web.New(opts.Addr, eng.gallery)
		srv.Start()
		fmt.Fprintf(os.Stderr, "🌐 Open http://%s in a browser\n", opts.Addr)
		presenter = srv
	}
	defer presenter.Close()

	train := func(ctx context.Context) (recognizer.TrainStats, error) {
		return eng.train(ctx, nil)
	}
	session := viewer.NewSession(src, p, eng.gallery, train, presenter)
	defer session.Close()

	if opts.Name != "" {
		reply, err := session.Handle(ctx, viewer.Event{Kind: viewer.SetName, Name: opts.Name})
		if err == nil {
			err = reply.Err
		}
		if err != nil {
			return err
		}
	}

	if !eng.recognizer.Trained() {
		log.Info("Recognizer is untrained: every face is labeled unknown until you train")
	}
	return session.Run(ctx)
}
