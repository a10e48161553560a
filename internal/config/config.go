// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wiki-crawler/internal/crawler"
	"github.com/JakeFAU/wiki-crawler/internal/extract"
)

// Supported fetcher backends.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
	BackendColly    = "colly"
)

// EnvConfigFile names the environment variable holding an explicit config path.
const EnvConfigFile = "CRAWLER_CONFIG"

// DefaultPages is the fixed crawl list used when none is configured.
var DefaultPages = []string{
	"Gandalf",
	"Frodo_Baggins",
	"Aragorn_II",
	"Samwise_Gamgee",
	"Sauron",
	"The_Lord_of_the_Rings",
	"Middle-earth",
}

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Extract ExtractConfig `mapstructure:"extract"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the page loop.
type CrawlerConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	Pages                   []string      `mapstructure:"pages"`
	OutputDir               string        `mapstructure:"output_dir"`
	HTMLDir                 string        `mapstructure:"html_dir"`
	InterPageDelay          time.Duration `mapstructure:"inter_page_delay"`
	MaxRetries              int           `mapstructure:"max_retries"`
	AbortOnChallengeTimeout bool          `mapstructure:"abort_on_challenge_timeout"`
}

// FetcherConfig selects and tunes the page backend.
type FetcherConfig struct {
	Backend               string        `mapstructure:"backend"`
	Headless              bool          `mapstructure:"headless"`
	BrowserPath           string        `mapstructure:"browser_path"`
	UserAgent             string        `mapstructure:"user_agent"`
	RandomizeUserAgent    bool          `mapstructure:"randomize_user_agent"`
	AcceptLanguage        string        `mapstructure:"accept_language"`
	CookieHeader          string        `mapstructure:"cookie_header"`
	NavigationTimeout     time.Duration `mapstructure:"navigation_timeout"`
	ChallengeTimeout      time.Duration `mapstructure:"challenge_timeout"`
	ContentTimeout        time.Duration `mapstructure:"content_timeout"`
	ChallengePollInterval time.Duration `mapstructure:"challenge_poll_interval"`
	ChallengeMarkers      []string      `mapstructure:"challenge_markers"`
	ContentSelector       string        `mapstructure:"content_selector"`
	Warmup                bool          `mapstructure:"warmup"`
	WarmupURL             string        `mapstructure:"warmup_url"`
	ViewportWidth         int           `mapstructure:"viewport_width"`
	ViewportHeight        int           `mapstructure:"viewport_height"`
}

// ExtractConfig holds the DOM selectors used to segment a page.
type ExtractConfig struct {
	TitleSelector   string `mapstructure:"title_selector"`
	SectionSelector string `mapstructure:"section_selector"`
	HeadingSelector string `mapstructure:"heading_selector"`
	IntroTitle      string `mapstructure:"intro_title"`
	UnknownTitle    string `mapstructure:"unknown_title"`
}

// StorageConfig configures the optional GCS mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	// DryRun keeps artifacts in memory and only logs their paths.
	DryRun bool `mapstructure:"dry_run"`
}

// MetricsConfig controls the post-run metrics export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path falls back to
// CRAWLER_CONFIG and then to a search in the working and home directories.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("fetcher.cookie_header", "CRAWLER_FETCHER_COOKIE_HEADER", "COOKIE_HEADER"); err != nil {
		return Config{}, fmt.Errorf("bind cookie header: %w", err)
	}

	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.wikicrawl")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "https://tolkiengateway.net/wiki/")
	v.SetDefault("crawler.pages", DefaultPages)
	v.SetDefault("crawler.output_dir", "json")
	v.SetDefault("crawler.html_dir", "html")
	v.SetDefault("crawler.inter_page_delay", crawler.DefaultInterPageDelay)
	v.SetDefault("crawler.max_retries", 0)
	v.SetDefault("crawler.abort_on_challenge_timeout", false)
	v.SetDefault("fetcher.backend", BackendChromedp)
	v.SetDefault("fetcher.headless", true)
	v.SetDefault("fetcher.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("fetcher.randomize_user_agent", true)
	v.SetDefault("fetcher.accept_language", crawler.DefaultAcceptLanguage)
	v.SetDefault("fetcher.cookie_header", "")
	v.SetDefault("fetcher.navigation_timeout", crawler.DefaultNavigationTimeout)
	v.SetDefault("fetcher.challenge_timeout", crawler.DefaultChallengeTimeout)
	v.SetDefault("fetcher.content_timeout", crawler.DefaultContentTimeout)
	v.SetDefault("fetcher.challenge_poll_interval", 5*time.Second)
	v.SetDefault("fetcher.challenge_markers", crawler.DefaultChallengeMarkers)
	v.SetDefault("fetcher.content_selector", crawler.DefaultContentSelector)
	v.SetDefault("fetcher.warmup", true)
	v.SetDefault("fetcher.warmup_url", "")
	v.SetDefault("fetcher.viewport_width", 1920)
	v.SetDefault("fetcher.viewport_height", 1080)
	v.SetDefault("extract.title_selector", extract.DefaultTitleSelector)
	v.SetDefault("extract.section_selector", extract.DefaultSectionSelector)
	v.SetDefault("extract.heading_selector", extract.DefaultHeadingSelector)
	v.SetDefault("extract.intro_title", crawler.DefaultIntroTitle)
	v.SetDefault("extract.unknown_title", crawler.DefaultUnknownTitle)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "wiki")
	v.SetDefault("storage.dry_run", false)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if len(c.Crawler.Pages) == 0 {
		return fmt.Errorf("crawler.pages must list at least one page")
	}
	for _, p := range c.Crawler.Pages {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("crawler.pages must not contain empty identifiers")
		}
	}
	if c.Crawler.OutputDir == "" || c.Crawler.HTMLDir == "" {
		return fmt.Errorf("crawler.output_dir and crawler.html_dir are required")
	}
	if c.Crawler.InterPageDelay < 0 {
		return fmt.Errorf("crawler.inter_page_delay must be >= 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	switch c.Fetcher.Backend {
	case BackendChromedp, BackendRod, BackendColly:
	default:
		return fmt.Errorf("fetcher.backend %q is not one of %s, %s, %s",
			c.Fetcher.Backend, BackendChromedp, BackendRod, BackendColly)
	}
	if c.Fetcher.NavigationTimeout <= 0 {
		return fmt.Errorf("fetcher.navigation_timeout must be > 0")
	}
	if c.Fetcher.ChallengeTimeout <= 0 {
		return fmt.Errorf("fetcher.challenge_timeout must be > 0")
	}
	if c.Fetcher.ContentTimeout <= 0 {
		return fmt.Errorf("fetcher.content_timeout must be > 0")
	}
	if c.Fetcher.ChallengePollInterval <= 0 {
		return fmt.Errorf("fetcher.challenge_poll_interval must be > 0")
	}
	if len(c.Fetcher.ChallengeMarkers) == 0 {
		return fmt.Errorf("fetcher.challenge_markers must not be empty")
	}
	if c.Fetcher.ContentSelector == "" {
		return fmt.Errorf("fetcher.content_selector is required")
	}
	if c.Fetcher.ViewportWidth <= 0 || c.Fetcher.ViewportHeight <= 0 {
		return fmt.Errorf("fetcher.viewport_width and fetcher.viewport_height must be > 0")
	}
	if c.Extract.TitleSelector == "" || c.Extract.SectionSelector == "" || c.Extract.HeadingSelector == "" {
		return fmt.Errorf("extract selectors must not be empty")
	}
	return nil
}

// FetchConfig converts fetcher settings into crawler.FetchConfig.
func (c Config) FetchConfig() crawler.FetchConfig {
	return crawler.FetchConfig{
		NavigationTimeout: c.Fetcher.NavigationTimeout,
		ChallengeTimeout:  c.Fetcher.ChallengeTimeout,
		ContentTimeout:    c.Fetcher.ContentTimeout,
		ContentSelector:   c.Fetcher.ContentSelector,
	}
}

// RequestProfile returns the identity presented on every page request.
func (c Config) RequestProfile() crawler.RequestProfile {
	return crawler.RequestProfile{
		UserAgent:      c.Fetcher.UserAgent,
		Randomize:      c.Fetcher.RandomizeUserAgent,
		AcceptLanguage: c.Fetcher.AcceptLanguage,
		CookieHeader:   c.Fetcher.CookieHeader,
	}
}

// RunnerConfig returns the loop settings.
func (c Config) RunnerConfig() crawler.RunnerConfig {
	return crawler.RunnerConfig{
		InterPageDelay:          c.Crawler.InterPageDelay,
		Warmup:                  c.Fetcher.Warmup,
		WarmupURL:               c.Fetcher.WarmupURL,
		AbortOnChallengeTimeout: c.Crawler.AbortOnChallengeTimeout,
	}
}

// ExtractorConfig returns the section extractor settings.
func (c Config) ExtractorConfig() extract.Config {
	return extract.Config{
		TitleSelector:   c.Extract.TitleSelector,
		SectionSelector: c.Extract.SectionSelector,
		HeadingSelector: c.Extract.HeadingSelector,
		IntroTitle:      c.Extract.IntroTitle,
		UnknownTitle:    c.Extract.UnknownTitle,
	}
}
