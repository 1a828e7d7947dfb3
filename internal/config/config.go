package config

import (
	"math"
	"strings"
	"time"

	"github.com/andresmejia3/faced/internal/detector"
	"github.com/andresmejia3/faced/internal/imageio"
	"github.com/andresmejia3/faced/internal/pipeline"
	"github.com/andresmejia3/faced/internal/types"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FACED_SERVER_ADDR.
const EnvPrefix = "FACED"

// Ranges offered on the configuration surface.
const (
	MinScaleFactor  = 1.01
	MaxScaleFactor  = 2.0
	MinMinNeighbors = 1
	MaxMinNeighbors = 20
)

// ErrInvalid marks configuration values that cannot be used at all.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Detector  DetectorConfig  `mapstructure:"detector" yaml:"detector"`
	Image     ImageConfig     `mapstructure:"image" yaml:"image"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// DetectionConfig holds the defaults used when a request leaves a value out.
type DetectionConfig struct {
	ScaleFactor  float64 `mapstructure:"scale_factor" yaml:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors" yaml:"min_neighbors"`
	Color        string  `mapstructure:"color" yaml:"color"`
	Stroke       int     `mapstructure:"stroke" yaml:"stroke"`
}

type DetectorConfig struct {
	Backend     string  `mapstructure:"backend" yaml:"backend"`
	Cascade     string  `mapstructure:"cascade" yaml:"cascade"`
	MinSize     int     `mapstructure:"min_size" yaml:"min_size"`
	MaxSize     int     `mapstructure:"max_size" yaml:"max_size"`
	ShiftFactor float64 `mapstructure:"shift_factor" yaml:"shift_factor"`
	MinQuality  float64 `mapstructure:"min_quality" yaml:"min_quality"`
}

type ImageConfig struct {
	MaxSide     int `mapstructure:"max_side" yaml:"max_side"`
	MaxPixels   int `mapstructure:"max_pixels" yaml:"max_pixels"`
	JPEGQuality int `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Level string `mapstructure:"level" yaml:"level"`
}

// SetDefaults registers every known key so env overrides and AllSettings see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("detection.scale_factor", 1.1)
	v.SetDefault("detection.min_neighbors", 5)
	v.SetDefault("detection.color", "#00FF00")
	v.SetDefault("detection.stroke", pipeline.DefaultStroke)

	v.SetDefault("detector.backend", "pigo")
	v.SetDefault("detector.cascade", "cascade/facefinder")
	v.SetDefault("detector.min_size", 20)
	v.SetDefault("detector.max_size", 0) // 0 = shorter image side
	v.SetDefault("detector.shift_factor", 0.1)
	v.SetDefault("detector.min_quality", 0.0)

	v.SetDefault("image.max_side", 0)
	v.SetDefault("image.max_pixels", imageio.DefaultMaxPixels)
	v.SetDefault("image.jpeg_quality", imageio.DefaultJPEGQuality)

	v.SetDefault("server.addr", ":8501")
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("server.rate_limit", 5.0) // requests per second, 0 disables
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// New returns a viper instance with defaults, FACED_* env binding and, when
// configFile is set, that file merged on top of the defaults.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithHint(
				errors.Wrapf(err, "failed to read config file %s", configFile),
				"config files may be YAML, TOML or JSON; the extension selects the format",
			)
		}
	}
	return v, nil
}

// Load unmarshals v and checks the values nothing downstream can recover from.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable settings. Out-of-range detection defaults are
// clamped later rather than rejected here.
func (c *Config) Validate() error {
	if _, err := imageio.ParseHexColor(c.Detection.Color); err != nil {
		return errors.Mark(errors.Wrap(err, "detection.color"), ErrInvalid)
	}
	if c.Detection.Stroke < 1 {
		return errors.Wrapf(ErrInvalid, "detection.stroke must be at least 1, got %d", c.Detection.Stroke)
	}
	if c.Image.MaxPixels < 0 {
		return errors.Wrapf(ErrInvalid, "image.max_pixels must not be negative, got %d", c.Image.MaxPixels)
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.Wrapf(ErrInvalid, "server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Server.RateLimit < 0 {
		return errors.Wrapf(ErrInvalid, "server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Detector.MinSize < 0 || c.Detector.MaxSize < 0 {
		return errors.Wrapf(ErrInvalid, "detector window sizes must not be negative (min %d, max %d)",
			c.Detector.MinSize, c.Detector.MaxSize)
	}
	return nil
}

// DetectorOptions converts the detector section for detector.New.
func (c *Config) DetectorOptions() detector.Config {
	return detector.Config{
		Backend:     c.Detector.Backend,
		Cascade:     c.Detector.Cascade,
		MinSize:     c.Detector.MinSize,
		MaxSize:     c.Detector.MaxSize,
		ShiftFactor: c.Detector.ShiftFactor,
		MinQuality:  c.Detector.MinQuality,
	}
}

// Decoder returns the image decoder for the image section.
func (c *Config) Decoder() imageio.Decoder {
	return imageio.Decoder{MaxSide: c.Image.MaxSide, MaxPixels: c.Image.MaxPixels}
}

// DefaultRequest builds a request from the detection defaults, clamped to the
// surface ranges. Validate has already vetted the color.
func (c *Config) DefaultRequest() types.Request {
	col, _ := imageio.ParseHexColor(c.Detection.Color)
	return types.Request{
		Params: types.Params{
			ScaleFactor:  ClampScaleFactor(c.Detection.ScaleFactor),
			MinNeighbors: ClampMinNeighbors(c.Detection.MinNeighbors),
		},
		Color: col,
	}
}

// MaxUploadBytes is the request body limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// ClampScaleFactor pulls s into [MinScaleFactor, MaxScaleFactor]. NaN becomes the minimum.
func ClampScaleFactor(s float64) float64 {
	if math.IsNaN(s) {
		return MinScaleFactor
	}
	return math.Min(math.Max(s, MinScaleFactor), MaxScaleFactor)
}

// ClampMinNeighbors pulls n into [MinMinNeighbors, MaxMinNeighbors].
func ClampMinNeighbors(n int) int {
	return min(max(n, MinMinNeighbors), MaxMinNeighbors)
}
