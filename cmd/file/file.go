// Package file runs a single image through the detection pipeline
package file

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/analysis/processor"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/detection"
)

// Report is the JSON document written for an analyzed image
type Report struct {
	Image      string                              `json:"image"`
	ModelPath  string                              `json:"model_path"`
	AnalyzedAt time.Time                           `json:"analyzed_at"`
	Detections []detection.Detection               `json:"detections"`
	Equipment  map[string]processor.EquipmentState `json:"equipment"`
	Alerts     []alertlog.Entry                    `json:"alerts"`
}

// Command creates the command for analyzing a single image file.
func Command(settings *conf.Settings) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "file [image]",
		Short: "Analyze an image file",
		Long:  "Load the model, detect equipment in one image and print the result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor, err := analysis.NewFromSettings(settings, nil)
			if err != nil {
				return err
			}
			defer monitor.Close()

			report, err := Analyze(cmd.Context(), monitor, settings.Detector.ModelPath, args[0])
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, !compact)
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "Print JSON on a single line")
	return cmd
}

// Analyze loads modelPath into monitor and processes the image at path.
// Lifecycle and presence alerts raised along the way are part of the report.
func Analyze(ctx context.Context, monitor *analysis.Monitor, modelPath, path string) (*Report, error) {
	if err := monitor.Start(ctx, modelPath); err != nil {
		return nil, err
	}
	defer func() { _ = monitor.Stop() }()

	detections, err := monitor.ProcessImageFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if detections == nil {
		detections = []detection.Detection{}
	}

	return &Report{
		Image:      path,
		ModelPath:  modelPath,
		AnalyzedAt: time.Now(),
		Detections: detections,
		Equipment:  monitor.State(),
		Alerts:     monitor.Alerts().Entries(0),
	}, nil
}

func writeReport(w io.Writer, report *Report, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}
