package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/banshee-data/footage.report/internal/analysis"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/match"
	"github.com/banshee-data/footage.report/internal/video"
)

// newAnalyzeCommand runs one analysis in the foreground against a local
// video file, without going through the HTTP server.
func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var (
		interval     float64
		stopOnDetect bool
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <video-file>",
		Short: "Analyze a local video file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			if interval < 0 {
				interval = opts.tuning.GetSampleIntervalSeconds()
			}

			source, err := video.Open(ctx, path, interval)
			if err != nil {
				return fmt.Errorf("failed to open video: %w", err)
			}
			defer source.Close()

			info := source.Info()
			color.Cyan("%s: %dx%d, %.1f fps, %.1fs", path, info.Width, info.Height, info.FPS, info.DurationSecs)

			bar := progressbar.NewOptions(100,
				progressbar.OptionSetDescription("analyzing"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetPredictTime(false),
				progressbar.OptionClearOnFinish(),
			)

			p := &analysis.Pipeline{
				Detector: detect.NewClient(opts.detectorURL, opts.tuning.GetDetectionTimeout()),
				Matcher:  match.NewClient(opts.matcherURL, opts.tuning.GetMatchingTimeout()),
				Tuning:   opts.tuning,
			}
			res, err := p.Run(ctx, source, stopOnDetect, func(phase string, percent int) {
				bar.Describe(phase)
				bar.Set(percent)
			})
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}
			bar.Finish()

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			printSummary(res)
			return nil
		},
	}

	cmd.Flags().Float64Var(&interval, "interval", -1, "seconds between sampled frames (0 samples every frame, unset uses the configured default)")
	cmd.Flags().BoolVar(&stopOnDetect, "stop-on-detect", false, "stop as soon as a high-confidence match is found")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full result as JSON")
	return cmd
}

func printSummary(res *analysis.Result) {
	st := res.Stats
	fmt.Printf("frames: %d sampled, %d processed, %d skipped (%.0f%% skip rate, avg quality %.2f)\n",
		st.FramesSampled, st.FramesProcessed, st.FramesSkipped, st.SkipRate*100, st.AvgQuality)
	fmt.Printf("tracks: %d, matches: %d\n", st.TracksFound, st.MatchesFound)

	if st.MatchesFound == 0 {
		color.Yellow("no registered targets matched")
		return
	}
	if st.HighConfidenceSeen {
		color.Red("high-confidence match found")
	}

	for id, ms := range res.Movement.PerSuspect {
		fmt.Printf("  %s: %s - %s (%.0fs, %d appearances, similarity avg %.2f max %.2f)\n",
			id, ms.EntryTime, ms.ExitTime, ms.DurationSeconds,
			ms.TotalAppearances, ms.AvgSimilarity, ms.MaxSimilarity)
	}
}
