package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		OutputDir:    "./output",
		Locale:       "en-GB",
		SeparateJSON: true,
		JSONDir:      "json",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty output dir", mutate: func(c *Config) { c.OutputDir = "" }, wantErr: true},
		{name: "bad locale", mutate: func(c *Config) { c.Locale = "english" }, wantErr: true},
		{name: "uppercase country ok", mutate: func(c *Config) { c.Locale = "de-DE" }},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -1 }, wantErr: true},
		{name: "negative recipe limit", mutate: func(c *Config) { c.RecipeLimit = -1 }, wantErr: true},
		{name: "negative rate", mutate: func(c *Config) { c.RequestsPerSecond = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				var confErr *ConfigurationError
				if !errors.As(err, &confErr) {
					t.Fatalf("expected a configuration error but got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{locale: "en-US", want: "https://cookidoo.thermomix.com"},
		{locale: "en-GB", want: "https://cookidoo.co.uk"},
		{locale: "en-AU", want: "https://cookidoo.com.au"},
		{locale: "de-DE", want: "https://cookidoo.de"},
		{locale: "it-IT", want: "https://cookidoo.it"},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			c := &Config{Locale: tt.locale}
			if got := c.BaseURL(); got != tt.want {
				t.Errorf("expected %s but got %s", tt.want, got)
			}
		})
	}
}

func TestCollectionsURL(t *testing.T) {
	c := &Config{Locale: "de-DE"}
	want := "https://cookidoo.de/organize/de-DE/my-recipes"
	if got := c.CollectionsURL(); got != want {
		t.Errorf("expected %s but got %s", want, got)
	}
}

func TestNewReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "output_dir: /tmp/recipes\nlocale: de-DE\nsaved: true\nworkers: 4\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("expected no error while writing the config file but got: %v", err)
	}

	cfg, err := New(path)
	if err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}
	if cfg.OutputDir != "/tmp/recipes" || cfg.Locale != "de-DE" || !cfg.Saved || cfg.Workers != 4 {
		t.Errorf("expected the file values to be read but got: %+v", cfg)
	}
	if cfg.PageLoadWaitMS != 2000 {
		t.Errorf("expected the page load wait default but got %d", cfg.PageLoadWaitMS)
	}
}

func TestNewMissingConfigFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yml"))
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected a configuration error but got: %v", err)
	}
}
