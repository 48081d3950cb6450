// Package config holds the run configuration. Values are taken from a
// config yml file, environment variables, command line flags or all three.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConfigurationError reports an invalid flag, pattern or config file entry.
// It is fatal and is raised before any network activity happens.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

var localeRe = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// Config defines the overall run configuration.
type Config struct {
	OutputDir string `yaml:"output_dir" env:"COOKIDUMP_OUTPUT_DIR" env-default:"./output"`
	Locale    string `yaml:"locale" env:"COOKIDUMP_LOCALE" env-default:"en-US"`
	Pattern   string `yaml:"pattern" env:"COOKIDUMP_PATTERN"`

	// Saved selects all saved collections in place of an explicit pattern.
	Saved bool `yaml:"saved" env:"COOKIDUMP_SAVED"`

	// SeparateJSON writes one json file per recipe instead of one
	// aggregate file per collection.
	SeparateJSON bool   `yaml:"separate_json" env:"COOKIDUMP_SEPARATE_JSON" env-default:"true"`
	JSONDir      string `yaml:"json_dir" env:"COOKIDUMP_JSON_DIR" env-default:"json"`

	// Workers is the size of the collection worker pool. Zero means one
	// worker per available CPU, capped at the number of collections.
	Workers int `yaml:"workers" env:"COOKIDUMP_WORKERS"`

	// RecipeLimit stops listing a collection after this many recipes.
	// Zero means no limit.
	RecipeLimit int `yaml:"recipe_limit" env:"COOKIDUMP_RECIPE_LIMIT"`

	// Interactive opens a visible browser window so a human can complete
	// the login (captchas, 2FA). Without it the stored session is reused
	// or credentials are submitted directly.
	Interactive bool `yaml:"interactive" env:"COOKIDUMP_INTERACTIVE"`

	// SaveCookiesOnly logs in, persists the session file and exits.
	SaveCookiesOnly bool `yaml:"save_cookies_only" env:"COOKIDUMP_SAVE_COOKIES_ONLY"`

	// Force re-fetches recipes even when their artifact already exists.
	Force bool `yaml:"force" env:"COOKIDUMP_FORCE"`

	SessionDir     string `yaml:"session_dir" env:"COOKIDUMP_SESSION_DIR"`
	UserAgent      string `yaml:"user_agent" env:"COOKIDUMP_USER_AGENT"`
	PageLoadWaitMS int    `yaml:"page_load_wait_ms" env:"COOKIDUMP_PAGE_LOAD_WAIT_MS" env-default:"2000"`

	// RequestsPerSecond throttles page loads across all workers. Zero
	// means no throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"COOKIDUMP_REQUESTS_PER_SECOND"`

	Username string `yaml:"-" env:"COOKIDUMP_USERNAME"`
	Password string `yaml:"-" env:"COOKIDUMP_PASSWORD"`

	Debug bool `yaml:"debug" env:"COOKIDUMP_DEBUG"`
}

// New reads the configuration from the given yml file, overlaid with
// environment variables. An empty path reads from the environment only.
func New(configPath string) (*Config, error) {
	var config Config
	if configPath == "" {
		if err := cleanenv.ReadEnv(&config); err != nil {
			return nil, err
		}
		return &config, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("config file %s not readable: %v", configPath, err)}
	}
	if err := cleanenv.ReadConfig(configPath, &config); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("config file %s: %v", configPath, err)}
	}
	return &config, nil
}

// Validate checks everything that can be checked without touching the
// network.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return &ConfigurationError{Reason: "output directory must not be empty"}
	}
	if !localeRe.MatchString(c.Locale) {
		return &ConfigurationError{Reason: fmt.Sprintf("locale %q is not of the form xx-XX", c.Locale)}
	}
	if c.Workers < 0 {
		return &ConfigurationError{Reason: "worker count must not be negative"}
	}
	if c.RecipeLimit < 0 {
		return &ConfigurationError{Reason: "recipe limit must not be negative"}
	}
	if c.RequestsPerSecond < 0 {
		return &ConfigurationError{Reason: "requests per second must not be negative"}
	}
	return nil
}

// BaseURL maps the locale to the cookidoo domain serving it. A few
// countries have their own top level domain, the rest live under the
// country code.
func (c *Config) BaseURL() string {
	country := strings.SplitN(c.Locale, "-", 2)[1]
	switch country {
	case "US":
		return "https://cookidoo.thermomix.com"
	case "GB":
		return "https://cookidoo.co.uk"
	case "AU":
		return "https://cookidoo.com.au"
	default:
		return fmt.Sprintf("https://cookidoo.%s", strings.ToLower(country))
	}
}

// CollectionsURL is the my-recipes page listing all of the user's
// collections.
func (c *Config) CollectionsURL() string {
	return fmt.Sprintf("%s/organize/%s/my-recipes", c.BaseURL(), c.Locale)
}

// LoginURL is the profile login page.
func (c *Config) LoginURL() string {
	return c.BaseURL() + "/profile/login"
}
