package mediafetch

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	TranscoderFFmpeg   = "ffmpeg"
	TranscoderEmbedded = "embedded"
	TranscoderAuto     = "auto"
)

// Config is the configuration surface of the core, usually loaded from a YAML file.
type Config struct {
	// Largest artifact the delivery layer accepts.
	SizeCeilingBytes int64 `yaml:"size_ceiling_bytes"`
	// How long an offered selection stays valid.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// How often expired selections are purged.
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	AudioBitrateKbps    int           `yaml:"audio_bitrate_kbps"`
	MaxRenditionsListed int           `yaml:"max_renditions_listed"`
	// Upper bound for one execution, all stages included.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	// Abort a transfer when no bytes move for this long.
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// Parent directory for per-execution scratch directories; empty means os.TempDir().
	TempDir string `yaml:"temp_dir,omitempty"`

	YtDlpPath  string `yaml:"yt_dlp_path"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	// One of "ffmpeg", "embedded" or "auto".
	Transcoder string `yaml:"transcoder"`

	Headers HeaderConfig `yaml:"headers"`

	// text/template for delivered file names, see FilenameArgs.
	FilenameTemplate string `yaml:"filename_template"`
}

// HeaderConfig is the fixed request header set sent to extraction backends.
type HeaderConfig struct {
	UserAgent      string `yaml:"user_agent"`
	AcceptLanguage string `yaml:"accept_language"`
	Referer        string `yaml:"referer,omitempty"`
}

func (h HeaderConfig) Header() http.Header {
	header := http.Header{}
	if h.UserAgent != "" {
		header.Set("User-Agent", h.UserAgent)
	}
	if h.AcceptLanguage != "" {
		header.Set("Accept-Language", h.AcceptLanguage)
	}
	if h.Referer != "" {
		header.Set("Referer", h.Referer)
	}
	return header
}

func DefaultConfig() Config {
	return Config{
		SizeCeilingBytes:    50 * 1000 * 1000,
		PendingTTL:          10 * time.Minute,
		SweepInterval:       time.Minute,
		AudioBitrateKbps:    128,
		MaxRenditionsListed: 5,
		ExecutionTimeout:    10 * time.Minute,
		StallTimeout:        time.Minute,
		YtDlpPath:           "yt-dlp",
		FFmpegPath:          "ffmpeg",
		Transcoder:          TranscoderAuto,
		Headers: HeaderConfig{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			AcceptLanguage: "en-US,en;q=0.8",
		},
		FilenameTemplate: "{{.Title}} [{{.Label}}].{{.Ext}}",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file just gives the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	} else if err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result error
	if c.SizeCeilingBytes <= 0 {
		result = multierror.Append(result, errors.New("size_ceiling_bytes must be positive"))
	}
	if c.PendingTTL <= 0 {
		result = multierror.Append(result, errors.New("pending_ttl must be positive"))
	}
	if c.SweepInterval <= 0 {
		result = multierror.Append(result, errors.New("sweep_interval must be positive"))
	}
	if c.AudioBitrateKbps < 32 || c.AudioBitrateKbps > 320 {
		result = multierror.Append(result, fmt.Errorf("audio_bitrate_kbps %d outside 32..320", c.AudioBitrateKbps))
	}
	if c.MaxRenditionsListed <= 0 {
		result = multierror.Append(result, errors.New("max_renditions_listed must be positive"))
	}
	if c.ExecutionTimeout <= 0 {
		result = multierror.Append(result, errors.New("execution_timeout must be positive"))
	}
	if c.StallTimeout < 0 {
		result = multierror.Append(result, errors.New("stall_timeout must not be negative"))
	}
	switch c.Transcoder {
	case TranscoderFFmpeg, TranscoderEmbedded, TranscoderAuto:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown transcoder %q", c.Transcoder))
	}
	if _, err := c.Filenames(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// Filenames compiles FilenameTemplate.
func (c *Config) Filenames() (*FilenameTemplate, error) {
	tmpl, err := template.New("filename").Option("missingkey=error").Parse(c.FilenameTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid filename_template: %w", err)
	}
	return &FilenameTemplate{tmpl: tmpl}, nil
}

// FilenameArgs are the fields available to the filename template.
type FilenameArgs struct {
	Title    string
	ID       string
	Provider string
	Label    string
	Ext      string
}

type FilenameTemplate struct {
	tmpl *template.Template
}

// Render executes the template and sanitizes the result. Template failures fall back to "<id>.<ext>".
func (t *FilenameTemplate) Render(args FilenameArgs) string {
	if args.Title == "" {
		args.Title = args.ID
	}
	builder := strings.Builder{}
	if t == nil || t.tmpl == nil {
		return SanitizeFilename(fmt.Sprintf("%s.%s", args.ID, args.Ext))
	} else if err := t.tmpl.Execute(&builder, &args); err != nil {
		return SanitizeFilename(fmt.Sprintf("%s.%s", args.ID, args.Ext))
	}
	return SanitizeFilename(builder.String())
}
