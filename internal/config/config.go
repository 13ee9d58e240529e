package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaperSize is a page format in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// PostgresConfig locates the API token table.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration as read from YAML.
type Config struct {
	Server struct {
		Host           string `yaml:"host"`
		Port           string `yaml:"port"`
		Prefork        bool   `yaml:"prefork"`
		BodyLimitBytes int    `yaml:"body_limit_bytes"`
	} `yaml:"server"`

	Limits struct {
		MaxPDFBytes int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RedisHost    string `yaml:"redis_host"`
		RateLimitDB  int    `yaml:"redis_rate_db"`
		StatsDB      int    `yaml:"redis_stats_db"`
		StatsEnabled bool   `yaml:"stats_enabled"`
	} `yaml:"cache"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`

	PDF struct {
		DefaultPaper         string               `yaml:"default_paper"`
		PaperSizes           map[string]PaperSize `yaml:"paper_sizes"`
		Margin               float64              `yaml:"margin"`
		TimeoutSecs          int                  `yaml:"timeout_secs"`
		ChromePath           string               `yaml:"chrome_path"`
		ChromeSandbox        bool                 `yaml:"chrome_sandbox"`
		UserDataDir          string               `yaml:"user_data_dir"`
		MaxConcurrentRenders int                  `yaml:"max_concurrent_renders"`
		AcquireTimeout       time.Duration        `yaml:"acquire_timeout"`
	} `yaml:"pdf"`

	Render struct {
		BaseURL            string        `yaml:"base_url"`
		Route              string        `yaml:"route"`
		RootSelector       string        `yaml:"root_selector"`
		DataStorageKey     string        `yaml:"data_storage_key"`
		ModeStorageKey     string        `yaml:"mode_storage_key"`
		ReadyAttribute     string        `yaml:"ready_attribute"`
		ViewportWidth      int64         `yaml:"viewport_width"`
		ViewportHeight     int64         `yaml:"viewport_height"`
		NavigationTimeout  time.Duration `yaml:"navigation_timeout"`
		SelectorTimeout    time.Duration `yaml:"selector_timeout"`
		ReadyTimeout       time.Duration `yaml:"ready_timeout"`
		SettleDelay        time.Duration `yaml:"settle_delay"`
		ContentTimeout     time.Duration `yaml:"content_timeout"`
		ContentSettleDelay time.Duration `yaml:"content_settle_delay"`
		NetworkQuiet       time.Duration `yaml:"network_quiet"`
		StripSelectors     []string      `yaml:"strip_selectors"`
		SchemaPath         string        `yaml:"schema_path"`
	} `yaml:"render"`
}

// DefaultStripSelectors are removed from the extracted resume subtree.
var DefaultStripSelectors = []string{
	"button",
	"input",
	"select",
	"textarea",
	"[contenteditable]",
	"[role=\"toolbar\"]",
	".toolbar",
	".controls",
	".no-print",
	"style",
	"script",
	"noscript",
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":3001"
	}
	if c.Server.BodyLimitBytes == 0 {
		c.Server.BodyLimitBytes = 10 * 1024 * 1024
	}
	if c.Limits.MaxPDFBytes == 0 {
		c.Limits.MaxPDFBytes = 20 * 1024 * 1024
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Auth.ReloadInterval == 0 {
		c.Auth.ReloadInterval = time.Minute
	}
	if c.RateLimiter.Interval == 0 {
		c.RateLimiter.Interval = time.Minute
	}

	if c.PDF.DefaultPaper == "" {
		c.PDF.DefaultPaper = "A4"
	}
	if len(c.PDF.PaperSizes) == 0 {
		c.PDF.PaperSizes = map[string]PaperSize{
			"A4":     {Width: 8.27, Height: 11.69},
			"LETTER": {Width: 8.5, Height: 11},
		}
	}
	if c.PDF.Margin == 0 {
		c.PDF.Margin = 0.4
	}
	if c.PDF.TimeoutSecs == 0 {
		c.PDF.TimeoutSecs = 60
	}
	if c.PDF.AcquireTimeout == 0 {
		c.PDF.AcquireTimeout = 10 * time.Second
	}

	if c.Render.BaseURL == "" {
		c.Render.BaseURL = "http://localhost:5173"
	}
	if c.Render.Route == "" {
		c.Render.Route = "/pdf-render"
	}
	if c.Render.RootSelector == "" {
		c.Render.RootSelector = "#resume-pdf-root"
	}
	if c.Render.DataStorageKey == "" {
		c.Render.DataStorageKey = "resumeData"
	}
	if c.Render.ModeStorageKey == "" {
		c.Render.ModeStorageKey = "pdfRenderMode"
	}
	if c.Render.ReadyAttribute == "" {
		c.Render.ReadyAttribute = "data-pdf-ready"
	}
	if c.Render.ViewportWidth == 0 {
		c.Render.ViewportWidth = 1920
	}
	if c.Render.ViewportHeight == 0 {
		c.Render.ViewportHeight = 1080
	}
	if c.Render.NavigationTimeout == 0 {
		c.Render.NavigationTimeout = 30 * time.Second
	}
	if c.Render.SelectorTimeout == 0 {
		c.Render.SelectorTimeout = 5 * time.Second
	}
	if c.Render.ReadyTimeout == 0 {
		c.Render.ReadyTimeout = 3 * time.Second
	}
	if c.Render.SettleDelay == 0 {
		c.Render.SettleDelay = time.Second
	}
	if c.Render.ContentTimeout == 0 {
		c.Render.ContentTimeout = 15 * time.Second
	}
	if c.Render.ContentSettleDelay == 0 {
		c.Render.ContentSettleDelay = 500 * time.Millisecond
	}
	if c.Render.NetworkQuiet == 0 {
		c.Render.NetworkQuiet = 500 * time.Millisecond
	}
	if len(c.Render.StripSelectors) == 0 {
		c.Render.StripSelectors = append([]string(nil), DefaultStripSelectors...)
	}
}

// Timeout bounds a whole render request.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.PDF.TimeoutSecs) * time.Second
}

// Paper returns the configured default paper size.
func (c Config) Paper() (PaperSize, bool) {
	p, ok := c.PDF.PaperSizes[strings.ToUpper(c.PDF.DefaultPaper)]
	return p, ok
}

// Load reads the file named by CONFIG_PATH, falling back to config.yaml.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg := LoadFrom(path)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = ":" + strings.TrimPrefix(port, ":")
	}
	return cfg
}

// LoadFrom reads and validates the YAML file at path. It panics on any
// unreadable file or invalid value since the service cannot start without a
// usable configuration.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %s: %v", path, err))
	}
	return cfg
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	if _, ok := c.Paper(); !ok {
		return fmt.Errorf("pdf.default_paper %q is not listed in pdf.paper_sizes", c.PDF.DefaultPaper)
	}
	for name, p := range c.PDF.PaperSizes {
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("pdf.paper_sizes.%s must have positive width and height", name)
		}
	}
	if c.PDF.Margin < 0 || c.PDF.Margin > 2 {
		return fmt.Errorf("pdf.margin must be between 0 and 2 inches, got %v", c.PDF.Margin)
	}
	if c.PDF.TimeoutSecs < 0 {
		return fmt.Errorf("pdf.timeout_secs must not be negative")
	}
	if c.PDF.MaxConcurrentRenders < 0 {
		return fmt.Errorf("pdf.max_concurrent_renders must not be negative")
	}
	if c.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if c.RateLimiter.Interval < 0 {
		return fmt.Errorf("rate_limiter.interval must not be negative")
	}
	if !strings.HasPrefix(c.Render.BaseURL, "http://") && !strings.HasPrefix(c.Render.BaseURL, "https://") {
		return fmt.Errorf("render.base_url must be an http(s) URL, got %q", c.Render.BaseURL)
	}
	if !strings.HasPrefix(c.Render.Route, "/") {
		return fmt.Errorf("render.route must start with '/', got %q", c.Render.Route)
	}
	if c.Render.SelectorTimeout > c.Render.NavigationTimeout {
		return fmt.Errorf("render.selector_timeout must not exceed render.navigation_timeout")
	}
	return nil
}
