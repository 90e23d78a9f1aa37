package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/saralmitti"
)

type analyzeFlags struct {
	pollFlags

	analysisType   string
	location       string
	previousCrop   string
	irrigationType string
	state          string
	district       string
	village        string
	season         string
	waterSource    string
}

// metadata returns the upload metadata, or nil when no flag was given.
func (f *analyzeFlags) metadata() *saralmitti.UploadMetadata {
	meta := &saralmitti.UploadMetadata{
		Location:       f.location,
		PreviousCrop:   f.previousCrop,
		IrrigationType: f.irrigationType,
	}
	if f.state != "" || f.district != "" || f.village != "" || f.season != "" || f.waterSource != "" {
		meta.FarmerContext = &saralmitti.FarmerContext{
			State:       f.state,
			District:    f.district,
			Village:     f.village,
			Season:      f.season,
			WaterSource: f.waterSource,
		}
	}
	if *meta == (saralmitti.UploadMetadata{}) {
		return nil
	}
	return meta
}

func newAnalyzeCmd() *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Upload a soil photo and wait for its analysis",
		Long: `Upload an image to the analysis service and poll until the analysis is
done, then print the soil properties and recommended crops.

Example:
  saralmitti analyze field.jpg
  saralmitti analyze field.jpg --type crop --location Nashik --season kharif
  saralmitti analyze field.jpg --field crops.0.name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rp, err := flags.buildPoller(cmd)
			if err != nil {
				return err
			}
			defer rp.Close()

			img, size, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := saralmitti.UploadRequest{
				Image:    img,
				Filename: filepath.Base(args[0]),
				Size:     size,
				Type:     saralmitti.AnalysisType(flags.analysisType),
				Metadata: flags.metadata(),
			}
			if !flags.quiet && !flags.json && flags.field == "" {
				req.Progress = uploadProgress(cmd.ErrOrStderr())
			}

			jobID, err := rp.Upload(ctx, req)
			if err != nil {
				return err
			}
			if !flags.quiet && !flags.json && flags.field == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "uploaded, job id %s\n", jobID)
			}

			result, err := rp.PollResult(ctx, jobID, flags.options()...)
			if err != nil {
				return errors.New(userMessage(err))
			}
			return printResult(cmd.OutOrStdout(), result, flags.pollFlags)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.analysisType, "type", "t", string(saralmitti.AnalysisSoil), "analysis type: soil or crop")
	cmd.Flags().StringVar(&flags.location, "location", "", "field location")
	cmd.Flags().StringVar(&flags.previousCrop, "previous-crop", "", "crop grown last season")
	cmd.Flags().StringVar(&flags.irrigationType, "irrigation", "", "irrigation type, e.g. drip or flood")
	cmd.Flags().StringVar(&flags.state, "state", "", "farmer's state")
	cmd.Flags().StringVar(&flags.district, "district", "", "farmer's district")
	cmd.Flags().StringVar(&flags.village, "village", "", "farmer's village")
	cmd.Flags().StringVar(&flags.season, "season", "", "growing season, e.g. kharif or rabi")
	cmd.Flags().StringVar(&flags.waterSource, "water-source", "", "water source, e.g. borewell or canal")
	return cmd
}

// uploadProgress prints upload progress in steps of 25%.
func uploadProgress(w io.Writer) func(int) {
	next := 25
	return func(pct int) {
		if pct < next {
			return
		}
		fmt.Fprintf(w, "uploading... %d%%\n", pct)
		for next <= pct {
			next += 25
		}
	}
}
