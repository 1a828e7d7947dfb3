package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/andresmejia3/faced/internal/config"
	"github.com/andresmejia3/faced/internal/imageio"
	"github.com/andresmejia3/faced/internal/logger"
	"github.com/andresmejia3/faced/internal/pipeline"
	"github.com/andresmejia3/faced/internal/types"
	"github.com/andresmejia3/faced/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// DetectOptions holds the flags of the detect command
type DetectOptions struct {
	OutputDir    string
	ScaleFactor  float64
	MinNeighbors int
	Color        string
	Format       string
	Jobs         int
	DryRun       bool

	// set from cobra's Changed so config defaults apply otherwise
	scaleSet     bool
	neighborsSet bool
	colorSet     bool
}

var detectOpts DetectOptions

var detectCmd = &cobra.Command{
	Use:   "detect <image>...",
	Short: "Detect faces in images and write annotated copies",
	Long: `Detect faces in one or more JPEG, PNG or WebP images and outline them.

A single input is written to <output>/detected_faces.jpg. Several inputs are
written to <output>/<name>_detected_faces.jpg and processed in parallel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := detectOpts
		opts.scaleSet = cmd.Flags().Changed("scale-factor")
		opts.neighborsSet = cmd.Flags().Changed("min-neighbors")
		opts.colorSet = cmd.Flags().Changed("color")
		return runDetect(cmd.Context(), cmd.OutOrStdout(), AppConfig, opts, args)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOpts.OutputDir, "output", "o", ".", "Directory for annotated images")
	detectCmd.Flags().Float64VarP(&detectOpts.ScaleFactor, "scale-factor", "s", 1.1, "Ratio between successive window sizes [1.01, 2.0]")
	detectCmd.Flags().IntVarP(&detectOpts.MinNeighbors, "min-neighbors", "n", 5, "Overlapping raw hits required per face [1, 20]")
	detectCmd.Flags().StringVarP(&detectOpts.Color, "color", "c", "#00FF00", "Outline color as #RRGGBB")
	detectCmd.Flags().StringVarP(&detectOpts.Format, "format", "f", "text", "Report format: text, json, yaml")
	detectCmd.Flags().IntVarP(&detectOpts.Jobs, "jobs", "j", runtime.NumCPU(), "Images processed in parallel")
	detectCmd.Flags().BoolVar(&detectOpts.DryRun, "dry-run", false, "Report faces without writing annotated images")
	rootCmd.AddCommand(detectCmd)
}

// detectReport is one line of output per input, in input order.
type detectReport struct {
	Input   string             `json:"input" yaml:"input"`
	Output  string             `json:"output,omitempty" yaml:"output,omitempty"`
	ImageID string             `json:"image_id,omitempty" yaml:"image_id,omitempty"`
	Width   int                `json:"width" yaml:"width"`
	Height  int                `json:"height" yaml:"height"`
	Count   int                `json:"count" yaml:"count"`
	Color   string             `json:"color" yaml:"color"`
	Faces   []types.FaceRegion `json:"faces" yaml:"faces"`
	Error   string             `json:"error,omitempty" yaml:"error,omitempty"`
}

func runDetect(ctx context.Context, out io.Writer, cfg *config.Config, opts DetectOptions, inputs []string) error {
	if err := validateDetectFlags(&opts, inputs); err != nil {
		return err
	}
	req, err := buildRequest(cfg, opts)
	if err != nil {
		return err
	}
	outputs, err := outputPaths(inputs, opts.OutputDir)
	if err != nil {
		return err
	}
	if !opts.DryRun {
		if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create output directory %s", opts.OutputDir)
		}
	}

	p, d, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	log := logger.Named("detect")
	log.Debugw("Starting detection", "inputs", len(inputs), "jobs", opts.Jobs, "detector", d.Name(),
		"scale_factor", req.Params.ScaleFactor, "min_neighbors", req.Params.MinNeighbors)

	var bar *progressbar.ProgressBar
	if len(inputs) > 1 {
		bar = progressbar.NewOptions(len(inputs),
			progressbar.OptionSetDescription("🔍 Detecting"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	decoder := cfg.Decoder()
	reports := make([]detectReport, len(inputs))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Jobs)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			target := outputs[i]
			if opts.DryRun {
				target = ""
			}
			reports[i] = detectOne(p, decoder, req, inputs[i], target, cfg.Image.JPEGQuality)
			if reports[i].Error != "" {
				failed.Add(1)
				log.Warnw("Detection failed", "input", inputs[i], "error", reports[i].Error)
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "detection interrupted")
	}
	if bar != nil {
		bar.Finish()
	}

	if err := writeReports(out, opts.Format, reports); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return errors.Newf("%d of %d inputs failed", n, len(inputs))
	}
	return nil
}

// detectOne runs one independent acquisition, pipeline and encode pass.
// An empty output skips writing.
func detectOne(p *pipeline.Pipeline, decoder imageio.Decoder, req types.Request, input, output string, quality int) detectReport {
	report := detectReport{
		Input:  input,
		Output: output,
		Color:  imageio.FormatHexColor(req.Color),
		Faces:  []types.FaceRegion{},
	}

	data, err := os.ReadFile(input)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.ImageID = utils.ShortID(utils.GenerateImageID(data))

	grid, _, err := decoder.Decode(data)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	res, err := p.Run(grid, req)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Width, report.Height = res.Width, res.Height
	report.Faces = append(report.Faces, res.Faces...)
	report.Count = len(res.Faces)

	if output == "" {
		return report
	}
	if err := writeJPEG(output, res.Annotated, quality); err != nil {
		report.Error = err.Error()
	}
	return report
}

// writeJPEG encodes into a temp file next to path and renames it into place.
func writeJPEG(path string, img image.Image, quality int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".faced-*.jpg")
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	defer os.Remove(tmp.Name())

	if err := imageio.EncodeJPEG(tmp, img, quality); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to flush output file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to move output into place")
}

func validateDetectFlags(opts *DetectOptions, inputs []string) error {
	if len(inputs) == 0 {
		return errors.New("no input images given")
	}
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Wrapf(err, "input file %s does not exist", in)
			}
			return errors.Wrapf(err, "unable to access input file %s", in)
		}
		if info.IsDir() {
			return errors.Newf("input path %s is a directory, expected an image file", in)
		}
	}

	switch opts.Format {
	case "text", "json", "yaml":
	default:
		return errors.WithHint(
			errors.Newf("invalid format '%s'", opts.Format),
			"use one of: text, json, yaml",
		)
	}

	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	return nil
}

// buildRequest starts from the configured defaults and applies the flags
// that were given, clamped to the surface ranges.
func buildRequest(cfg *config.Config, opts DetectOptions) (types.Request, error) {
	req := cfg.DefaultRequest()
	if opts.scaleSet {
		req.Params.ScaleFactor = config.ClampScaleFactor(opts.ScaleFactor)
	}
	if opts.neighborsSet {
		req.Params.MinNeighbors = config.ClampMinNeighbors(opts.MinNeighbors)
	}
	if opts.colorSet {
		c, err := imageio.ParseHexColor(opts.Color)
		if err != nil {
			return types.Request{}, err
		}
		req.Color = c
	}
	return req, nil
}

// outputPaths names the annotated file for every input. A single input gets
// the plain download name; several get it prefixed with their stem.
func outputPaths(inputs []string, dir string) ([]string, error) {
	outputs := make([]string, len(inputs))
	if len(inputs) == 1 {
		outputs[0] = filepath.Join(dir, imageio.DownloadName)
	} else {
		for i, in := range inputs {
			stem := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
			outputs[i] = filepath.Join(dir, stem+"_"+imageio.DownloadName)
		}
	}

	// Safety Check: never overwrite an input, and never let two inputs share an output
	inAbs := make(map[string]string, len(inputs))
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %s", in)
		}
		inAbs[abs] = in
	}
	seen := make(map[string]string, len(outputs))
	for i, out := range outputs {
		abs, err := filepath.Abs(out)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %s", out)
		}
		if in, ok := inAbs[abs]; ok {
			return nil, errors.WithHint(
				errors.Newf("output %s would overwrite input %s", out, in),
				"choose a different --output directory",
			)
		}
		if prev, ok := seen[abs]; ok {
			return nil, errors.WithHint(
				errors.Newf("inputs %s and %s both map to %s", prev, inputs[i], out),
				"rename one of the inputs or process them separately",
			)
		}
		seen[abs] = inputs[i]
	}
	return outputs, nil
}

func writeReports(w io.Writer, format string, reports []detectReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(reports), "failed to encode json report")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return errors.Wrap(err, "failed to encode yaml report")
		}
		return errors.Wrap(enc.Close(), "failed to flush yaml report")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "INPUT\tFACES\tSIZE\tOUTPUT")
	fmt.Fprintln(tw, "-----\t-----\t----\t------")
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\t❌ %s\n", r.Input, r.Error)
			continue
		}
		output := r.Output
		if output == "" {
			output = "(dry run)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%dx%d\t%s\n", r.Input, r.Count, r.Width, r.Height, output)
		for _, f := range r.Faces {
			fmt.Fprintf(tw, "  └ x=%d y=%d\t\t%dx%d\t\n", f.X, f.Y, f.Width, f.Height)
		}
	}
	return tw.Flush()
}
