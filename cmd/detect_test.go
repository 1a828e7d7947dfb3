package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/faced/internal/config"
	"github.com/andresmejia3/faced/internal/detector"
	"github.com/andresmejia3/faced/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeDetector struct{}

func (fakeDetector) Detect(gray *image.Gray, scaleFactor float64, minNeighbors int) ([]types.FaceRegion, error) {
	return []types.FaceRegion{{X: 1, Y: 1, Width: 6, Height: 6}}, nil
}
func (fakeDetector) Name() string { return "fake" }
func (fakeDetector) Close() error { return nil }

func useFakeDetector(t *testing.T) {
	t.Helper()
	prev := newDetector
	newDetector = func(detector.Config) (detector.Detector, error) { return fakeDetector{}, nil }
	t.Cleanup(func() { newDetector = prev })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v, err := config.New("")
	require.NoError(t, err)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestValidateDetectFlags(t *testing.T) {
	tmpDir := t.TempDir()
	img := filepath.Join(tmpDir, "face.png")
	writePNG(t, img, 4, 4)

	tests := []struct {
		name    string
		opts    DetectOptions
		inputs  []string
		wantErr bool
	}{
		{"Valid options", DetectOptions{Format: "text", Jobs: 2}, []string{img}, false},
		{"No inputs", DetectOptions{Format: "text"}, nil, true},
		{"Input file does not exist", DetectOptions{Format: "text"}, []string{filepath.Join(tmpDir, "nope.png")}, true},
		{"Input is directory", DetectOptions{Format: "text"}, []string{tmpDir}, true},
		{"Invalid format", DetectOptions{Format: "xml"}, []string{img}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateDetectFlags(&tt.opts, tt.inputs); (err != nil) != tt.wantErr {
				t.Errorf("validateDetectFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDetectFlags_Normalizes(t *testing.T) {
	img := filepath.Join(t.TempDir(), "face.png")
	writePNG(t, img, 4, 4)

	opts := DetectOptions{Format: "json", Jobs: 0}
	require.NoError(t, validateDetectFlags(&opts, []string{img}))
	if opts.Jobs != 1 {
		t.Errorf("Jobs = %d, want 1", opts.Jobs)
	}
	if opts.OutputDir != "." {
		t.Errorf("OutputDir = %q, want \".\"", opts.OutputDir)
	}
}

func TestOutputPaths(t *testing.T) {
	dir := t.TempDir()

	got, err := outputPaths([]string{"photos/me.png"}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "detected_faces.jpg")}, got)

	got, err = outputPaths([]string{"a/me.png", "b/you.jpeg"}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "me_detected_faces.jpg"),
		filepath.Join(dir, "you_detected_faces.jpg"),
	}, got)
}

func TestOutputPaths_Conflicts(t *testing.T) {
	dir := t.TempDir()

	// Output resolves to the input itself
	_, err := outputPaths([]string{filepath.Join(dir, "detected_faces.jpg")}, dir)
	assert.Error(t, err)

	// Two inputs share a stem
	_, err = outputPaths([]string{"a/me.png", "b/me.jpg"}, dir)
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name    string
		opts    DetectOptions
		want    types.Params
		color   color.NRGBA
		wantErr bool
	}{
		{
			name:  "Flags unset use config defaults",
			opts:  DetectOptions{ScaleFactor: 1.9, MinNeighbors: 2, Color: "#FF0000"},
			want:  types.Params{ScaleFactor: 1.1, MinNeighbors: 5},
			color: color.NRGBA{G: 255, A: 255},
		},
		{
			name:  "Flags set are clamped",
			opts:  DetectOptions{ScaleFactor: 1.0, MinNeighbors: 40, Color: "0000ff", scaleSet: true, neighborsSet: true, colorSet: true},
			want:  types.Params{ScaleFactor: 1.01, MinNeighbors: 20},
			color: color.NRGBA{B: 255, A: 255},
		},
		{
			name:    "Invalid color",
			opts:    DetectOptions{Color: "blue", colorSet: true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest(cfg, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Params)
			assert.Equal(t, tt.color, req.Color)
		})
	}
}

func TestRunDetect(t *testing.T) {
	useFakeDetector(t)
	cfg := testConfig(t)

	inDir, outDir := t.TempDir(), filepath.Join(t.TempDir(), "out")
	inputs := []string{filepath.Join(inDir, "first.png"), filepath.Join(inDir, "second.png")}
	writePNG(t, inputs[0], 20, 10)
	writePNG(t, inputs[1], 12, 16)

	var out bytes.Buffer
	opts := DetectOptions{OutputDir: outDir, Format: "json", Jobs: 2}
	require.NoError(t, runDetect(context.Background(), &out, cfg, opts, inputs))

	var reports []detectReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
	require.Len(t, reports, 2)

	for i, want := range []image.Rectangle{image.Rect(0, 0, 20, 10), image.Rect(0, 0, 12, 16)} {
		r := reports[i]
		assert.Equal(t, inputs[i], r.Input, "reports keep input order")
		assert.Equal(t, 1, r.Count)
		assert.Equal(t, "#00FF00", r.Color)
		assert.Empty(t, r.Error)

		f, err := os.Open(r.Output)
		require.NoError(t, err)
		img, err := jpeg.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, want, img.Bounds())
	}
	assert.FileExists(t, filepath.Join(outDir, "first_detected_faces.jpg"))
	assert.FileExists(t, filepath.Join(outDir, "second_detected_faces.jpg"))
}

func TestRunDetect_DryRunYAML(t *testing.T) {
	useFakeDetector(t)
	cfg := testConfig(t)

	dir := t.TempDir()
	input := filepath.Join(dir, "solo.png")
	writePNG(t, input, 8, 8)

	var out bytes.Buffer
	opts := DetectOptions{OutputDir: dir, Format: "yaml", Jobs: 1, DryRun: true}
	require.NoError(t, runDetect(context.Background(), &out, cfg, opts, []string{input}))

	var reports []detectReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Output)
	assert.NoFileExists(t, filepath.Join(dir, "detected_faces.jpg"))
}

func TestRunDetect_PartialFailure(t *testing.T) {
	useFakeDetector(t)
	cfg := testConfig(t)

	dir := t.TempDir()
	good, bad := filepath.Join(dir, "good.png"), filepath.Join(dir, "bad.png")
	writePNG(t, good, 8, 8)
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))

	var out bytes.Buffer
	opts := DetectOptions{OutputDir: filepath.Join(dir, "out"), Format: "text", Jobs: 2}
	err := runDetect(context.Background(), &out, cfg, opts, []string{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 inputs failed")

	text := out.String()
	assert.Contains(t, text, "INPUT")
	assert.Contains(t, text, "good.png")
	assert.True(t, strings.Contains(text, "❌"), "failed input is flagged:\n%s", text)
	assert.FileExists(t, filepath.Join(dir, "out", "good_detected_faces.jpg"))
}

func TestRunDetect_PixelLimit(t *testing.T) {
	useFakeDetector(t)
	cfg := testConfig(t)
	cfg.Image.MaxPixels = 100

	dir := t.TempDir()
	input := filepath.Join(dir, "wide.png")
	writePNG(t, input, 20, 10)

	var out bytes.Buffer
	opts := DetectOptions{OutputDir: dir, Format: "json", Jobs: 1, DryRun: true}
	require.Error(t, runDetect(context.Background(), &out, cfg, opts, []string{input}))

	var reports []detectReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Error, "pixel limit")
}

func TestNewPipeline_Stroke(t *testing.T) {
	useFakeDetector(t)

	white := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	green := color.NRGBA{G: 255, A: 255}
	req := types.Request{Params: types.Params{ScaleFactor: 1.1, MinNeighbors: 5}, Color: green}

	for _, tt := range []struct {
		stroke int
		want   color.NRGBA
	}{
		{2, color.NRGBA{R: 255, G: 255, B: 255, A: 255}},
		{4, green},
	} {
		cfg := testConfig(t)
		cfg.Detection.Stroke = tt.stroke
		p, d, err := newPipeline(cfg)
		require.NoError(t, err)

		res, err := p.Run(white, req)
		require.NoError(t, err)
		// (4,3) sits in the fourth column of the left band of the 6x6 region at (1,1).
		assert.Equal(t, tt.want, res.Annotated.NRGBAAt(4, 3), "stroke %d", tt.stroke)
		d.Close()
	}
}

func TestRunDetect_DetectorLoadFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detector.Cascade = filepath.Join(t.TempDir(), "missing")

	img := filepath.Join(t.TempDir(), "face.png")
	writePNG(t, img, 4, 4)

	err := runDetect(context.Background(), &bytes.Buffer{}, cfg, DetectOptions{OutputDir: t.TempDir(), Format: "text", Jobs: 1}, []string{img})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrintConfig(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printConfig(&out, testConfig(t)))

	text := out.String()
	for _, want := range []string{"scale_factor: 1.1", "min_neighbors: 5", "backend: pigo", "read_timeout: 30s"} {
		assert.Contains(t, text, want)
	}

	// The printed config loads back unchanged.
	path := filepath.Join(t.TempDir(), "faced.yaml")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0644))
	v, err := config.New(path)
	require.NoError(t, err)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, testConfig(t), cfg)
}

func TestDisplayAddr(t *testing.T) {
	assert.Equal(t, "localhost:8501", displayAddr(":8501"))
	assert.Equal(t, "0.0.0.0:80", displayAddr("0.0.0.0:80"))
}
