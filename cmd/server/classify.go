package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/handlers"
	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/pipeline"

	"github.com/spf13/cobra"
)

type classifyOutput struct {
	File string `json:"file"`
	pipeline.Result
	Error string `json:"error,omitempty"`
}

func classifyCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify [image]...",
		Short: "Classify local chest X-ray images",
		Long:  `Run the model on one or more JPEG or PNG files and print one result per file.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predictor, err := loadModel(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer predictor.Close()

			return classifyFiles(pipeline.NewClassifier(predictor), args, cmd.OutOrStdout(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line")
	return cmd
}

// classifyFiles keeps going after a bad file and reports how many failed.
func classifyFiles(c handlers.Classifier, paths []string, out io.Writer, asJSON bool) error {
	enc := json.NewEncoder(out)
	failed := 0

	for _, path := range paths {
		res, err := classifyFile(c, path)
		if err != nil {
			failed++
			logger.WithError(err).WithField("file", path).Warn("Classification failed")
		}

		if asJSON {
			o := classifyOutput{File: path, Result: res}
			if err != nil {
				o.Error = err.Error()
			}
			if err := enc.Encode(o); err != nil {
				return err
			}
			continue
		}

		if err != nil {
			fmt.Fprintf(out, "%s\terror: %v\n", path, err)
			continue
		}
		view := handlers.NewResultView(res)
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", path, view.Title, view.Percent, res.Advisory)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be classified", failed, len(paths))
	}
	return nil
}

func classifyFile(c handlers.Classifier, path string) (pipeline.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Result{}, err
	}
	return c.Classify(raw)
}
