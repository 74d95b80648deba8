// Package config holds the settings of a grab job, persisted as JSON
// ".grab" files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/wudi/pagegrab/ocr"
	"github.com/wudi/pagegrab/toolexec"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Container formats.
const (
	FormatDjVu = "djvu"
	FormatPDF  = "pdf"
)

// Publisher kinds.
const (
	PublishLocal    = "local"
	PublishGCS      = "gcs"
	PublishSupabase = "supabase"
)

const (
	MinQuality = 16
	MaxQuality = 50
	// MaxDelay bounds the inter-fetch delay in seconds.
	MaxDelay = 500
)

// Publisher selects and configures the publication target.
type Publisher struct {
	Kind        string `json:"kind"`
	Directory   string `json:"directory,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	SupabaseURL string `json:"supabase_url,omitempty"`
	SupabaseKey string `json:"supabase_key,omitempty"`
}

// Network tunes the HTTP fetcher.
type Network struct {
	UserAgent           string `json:"user_agent,omitempty"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	MaxTransportRetries int    `json:"max_transport_retries"`
	RetryDelayMS        int    `json:"retry_delay_ms"`
}

// Config is one job. Field names follow the keys of the .grab file.
type Config struct {
	Source   string `json:"source"`
	TextID   string `json:"textid"`
	PgStart  int    `json:"pg_start"`
	PgEnd    int    `json:"pg_end"`
	UseProxy bool   `json:"use_proxy"`
	Proxy    string `json:"proxy"`
	Delay    int    `json:"delay"`
	Download bool   `json:"download"`

	ConvertDjVu     bool   `json:"convert_djvu"`
	ContainerFormat string `json:"container_format"`
	DjVuBitonal     bool   `json:"djvu_bitonal"`
	DjVuQuality     int    `json:"djvu_quality"`
	// ForceConvert re-encodes JPEGs through an intermediate image instead
	// of handing them to c44 directly.
	ForceConvert bool `json:"force_convert,omitempty"`

	PerformOCR        bool   `json:"perform_ocr"`
	FallbackTesseract bool   `json:"fallback_tesseract"`
	ForceTesseract    bool   `json:"force_tesseract"`
	UseSavedOCR       bool   `json:"use_saved_ocr"`
	DumpOCR           bool   `json:"dump_ocr"`
	CleanText         bool   `json:"clean_text"`
	CleanTextCmd      string `json:"clean_text_cmd"`
	Lang              string `json:"lang"`
	OCREngine         string `json:"ocr_engine"`
	OCRPageSegMode    int    `json:"ocr_psm,omitempty"`
	OCRWhitelist      string `json:"ocr_whitelist,omitempty"`
	OCRDPI            int    `json:"ocr_dpi,omitempty"`
	// OCRRegion crops every page before recognition: "x,y,width,height".
	OCRRegion string `json:"ocr_region,omitempty"`

	TopDirectory   string `json:"top_directory"`
	BookDir        string `json:"book_directory"`
	CustomBookDir  bool   `json:"custom_bk_dir"`
	FilenamePrefix string `json:"filename_prefix"`
	Template       string `json:"template"`

	UploadImages bool      `json:"upload_images"`
	ForceUpload  bool      `json:"force_upload"`
	Publisher    Publisher `json:"publisher"`

	Network          Network  `json:"network"`
	DownloadAttempts int      `json:"download_attempts"`
	MinImageBytes    int      `json:"min_image_bytes"`
	LogLevel         string   `json:"log_level"`
	ScriptSources    []string `json:"script_sources,omitempty"`
	FirestoreProject string   `json:"firestore_project,omitempty"`
	StatusAddr       string   `json:"status_addr,omitempty"`
	// StatusOrigins are the browser origins allowed to call the status API.
	StatusOrigins []string `json:"status_origins,omitempty"`
	// StatusToken, when set, must accompany abort requests.
	StatusToken string `json:"status_token,omitempty"`

	clean toolexec.Pipeline
}

// Default returns the settings a fresh job starts from.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Source:            "HATHI",
		PgStart:           1,
		PgEnd:             1,
		Download:          true,
		ConvertDjVu:       true,
		ContainerFormat:   FormatDjVu,
		DjVuQuality:       48,
		PerformOCR:        true,
		FallbackTesseract: true,
		Lang:              "eng",
		OCREngine:         "gosseract",
		TopDirectory:      filepath.Join(home, "pagegrab"),
		Template:          "Utopia, More, 1567",
		Publisher:         Publisher{Kind: PublishLocal},
		Network:           Network{TimeoutSeconds: 60, RetryDelayMS: 1000},
		DownloadAttempts:  10,
		MinImageBytes:     1000,
		LogLevel:          "info",
	}
}

// DefaultPath is the file loaded implicitly at startup.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pagegrab", "default.grab"), nil
}

// Load reads path over the defaults, so keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	c := Default()
	if err := c.LoadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile overlays the keys present in path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s, it may be corrupt or from another version: %w", path, err)
	}
	return nil
}

// Save writes c to path atomically.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".grab-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ApplyEnv overlays settings from the environment.
func (c *Config) ApplyEnv() {
	if p := getEnvOrDefault("PAGEGRAB_PROXY", ""); p != "" {
		c.Proxy = p
		c.UseProxy = true
	}
	c.Publisher.SupabaseURL = getEnvOrDefault("SUPABASE_URL", c.Publisher.SupabaseURL)
	c.Publisher.SupabaseKey = getEnvOrDefault("SUPABASE_KEY", c.Publisher.SupabaseKey)
	c.Publisher.Bucket = getEnvOrDefault("PAGEGRAB_BUCKET", c.Publisher.Bucket)
	c.LogLevel = getEnvOrDefault("PAGEGRAB_LOG_LEVEL", c.LogLevel)
	c.FirestoreProject = getEnvOrDefault("GOOGLE_CLOUD_PROJECT", c.FirestoreProject)
	c.Delay = getEnvIntOrDefault("PAGEGRAB_DELAY", c.Delay)
	c.StatusToken = getEnvOrDefault("PAGEGRAB_STATUS_TOKEN", c.StatusToken)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

var proxyRe = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)(:\d+)?$`)

// Validate checks c and parses the cleaning commands. It must succeed
// before CleanPipeline is used.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.TextID) == "" {
		add("textid is required")
	}
	if c.PgStart < 0 || c.PgStart > c.PgEnd {
		add("page range %d-%d is invalid", c.PgStart, c.PgEnd)
	}
	if c.UseProxy && !proxyRe.MatchString(c.Proxy) {
		add("proxy %q is not IP[:port]", c.Proxy)
	}
	if c.Delay < 0 || c.Delay > MaxDelay {
		add("delay %d outside 0..%d", c.Delay, MaxDelay)
	}
	if c.ConvertDjVu && c.ContainerFormat == FormatDjVu && (c.DjVuQuality < MinQuality || c.DjVuQuality > MaxQuality) {
		add("djvu_quality %d outside %d..%d", c.DjVuQuality, MinQuality, MaxQuality)
	}
	if c.Network.MaxTransportRetries < 0 || c.Network.RetryDelayMS < 0 {
		add("max_transport_retries and retry_delay_ms must not be negative")
	} else if c.Network.MaxTransportRetries == 0 && c.Network.RetryDelayMS == 0 {
		add("retry_delay_ms must be positive when max_transport_retries is 0 (unlimited)")
	}
	switch c.ContainerFormat {
	case FormatDjVu, FormatPDF:
	default:
		add("unknown container_format %q", c.ContainerFormat)
	}
	switch c.OCREngine {
	case "", "gosseract", "command", "tesseract":
	default:
		add("unknown ocr_engine %q", c.OCREngine)
	}
	if c.OCRPageSegMode < 0 || c.OCRPageSegMode > 13 {
		add("ocr_psm %d outside 0..13", c.OCRPageSegMode)
	}
	if c.OCRDPI < 0 {
		add("ocr_dpi %d is negative", c.OCRDPI)
	}
	if _, err := ocr.ParseRegion(c.OCRRegion); err != nil {
		add("ocr_region: %v", err)
	}
	if c.UploadImages {
		switch c.Publisher.Kind {
		case PublishLocal:
			if c.Publisher.Directory == "" {
				add("publisher.directory is required for local publishing")
			}
		case PublishGCS:
			if c.Publisher.Bucket == "" {
				add("publisher.bucket is required for gcs publishing")
			}
		case PublishSupabase:
			if c.Publisher.Bucket == "" || c.Publisher.SupabaseURL == "" || c.Publisher.SupabaseKey == "" {
				add("supabase publishing needs bucket, supabase_url and supabase_key")
			}
		default:
			add("unknown publisher kind %q", c.Publisher.Kind)
		}
	}
	c.clean = toolexec.Pipeline{}
	if c.CleanText {
		p, err := toolexec.ParsePipeline(c.CleanTextCmd)
		if err != nil {
			add("clean_text_cmd: %v", err)
		} else {
			c.clean = p
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// CleanPipeline is the parsed clean_text_cmd.
func (c *Config) CleanPipeline() toolexec.Pipeline { return c.clean }

// BookDirectory is where the job's files live: <top>/<SOURCE>_<textid>,
// unless a custom directory is set.
func (c *Config) BookDirectory() string {
	if c.CustomBookDir && c.BookDir != "" {
		return c.BookDir
	}
	return filepath.Join(c.TopDirectory, c.Source+"_"+c.TextID)
}

// Prefix is the container and publication name prefix, defaulting to the
// text id.
func (c *Config) Prefix() string {
	if c.FilenamePrefix != "" {
		return c.FilenamePrefix
	}
	return c.TextID
}

// OCROptions are the recognition settings passed with every page. An
// unparsable region is dropped; Validate reports it.
func (c *Config) OCROptions() []ocr.InputOption {
	region, _ := ocr.ParseRegion(c.OCRRegion)
	return []ocr.InputOption{
		ocr.WithTesseractPSM(c.OCRPageSegMode),
		ocr.WithTesseractWhitelist(c.OCRWhitelist),
		ocr.WithDPI(c.OCRDPI),
		ocr.WithRegion(region),
	}
}

// Languages splits lang on '+'.
func (c *Config) Languages() []string { return ocr.ParseLanguages(c.Lang) }
