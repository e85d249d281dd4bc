package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/lookout/internal/pipeline"
	"github.com/andresmejia3/lookout/internal/source"
	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

var recognizeOutput string

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image_path>",
	Short: "Detect and recognize the faces in a single image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRecognize(cmd.Context(), args[0], recognizeOutput)
	},
}

func init() {
	recognizeCmd.Flags().StringVarP(&recognizeOutput, "output", "o", "", "Write the annotated image to this path")
	rootCmd.AddCommand(recognizeCmd)
}

func runRecognize(ctx context.Context, imagePath, output string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	eng := loadEngine(ctx, cfg, Models)
	defer eng.Close()

	res, err := processImage(eng.pipeline(cfg), imagePath)
	if err != nil {
		utils.ShowError("Failed to process image", err, nil)
		return err
	}
	defer res.Annotated.Close()

	if len(res.Detections) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
	} else {
		printResult(os.Stdout, res)
	}

	if output != "" {
		if ok := gocv.IMWrite(output, res.Annotated); !ok {
			err := fmt.Errorf("could not write %s", output)
			utils.ShowError("Failed to save annotated image", err, nil)
			return err
		}
		fmt.Printf("🖼️  Annotated image written to %s\n", output)
	}
	return nil
}

// processImage runs the pipeline once over the image at path. The pipeline is closed
// before returning; the annotated frame in the result stays valid.
func processImage(p *pipeline.Pipeline, path string) (pipeline.Result, error) {
	defer p.Close()

	src, err := source.OpenImage(path)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer src.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	if _, err := src.Next(&frame); err != nil {
		return pipeline.Result{}, err
	}
	return p.ProcessFrame(frame)
}

func printResult(out io.Writer, res pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tBOX\tCONFIDENCE\tLABEL\tPROBABILITY")
	fmt.Fprintln(w, "-\t---\t----------\t-----\t-----------")
	for i, d := range res.Detections {
		r := res.Recognitions[i]
		fmt.Fprintf(w, "%d\t(%d,%d)-(%d,%d)\t%.2f%%\t%s\t%.2f%%\n",
			i+1,
			d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y,
			d.Confidence*100,
			r.Label,
			r.Probability*100,
		)
	}
	w.Flush()
}
