package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cookidump/cookidump/config"
	"github.com/cookidump/cookidump/fetch"
	"github.com/cookidump/cookidump/log"
	"github.com/cookidump/cookidump/pipeline"
	"github.com/cookidump/cookidump/session"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var flagCfg config.Config

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log in and capture the collections to the output directory.",
	RunE:  run,
}

func init() {
	runCmd.Flags().StringVarP(&flagCfg.OutputDir, "output-dir", "r", "./output", "Directory the recipes are written to.")
	runCmd.Flags().StringVarP(&flagCfg.Locale, "locale", "l", "en-US", "Cookidoo locale, e.g. en-GB or de-DE.")
	runCmd.Flags().StringVarP(&flagCfg.Pattern, "pattern", "p", "", "collection_pattern[::recipe_pattern] filter, both sides are regexes.")
	runCmd.Flags().BoolVarP(&flagCfg.Saved, "saved", "s", false, "Also capture the saved collections.")
	runCmd.Flags().BoolVar(&flagCfg.SeparateJSON, "separate-json", true, "Write one json file per recipe instead of one per collection.")
	runCmd.Flags().IntVarP(&flagCfg.RecipeLimit, "count", "c", 0, "Stop listing a collection after this many recipes, 0 means all.")
	runCmd.Flags().IntVarP(&flagCfg.Workers, "workers", "w", 0, "Collection worker pool size, 0 means one per CPU.")
	runCmd.Flags().BoolVarP(&flagCfg.Force, "force", "f", false, "Re-fetch recipes that are already on disk.")
	runCmd.Flags().Float64Var(&flagCfg.RequestsPerSecond, "rate", 0, "Page loads per second across all workers, 0 means unthrottled.")
	runCmd.Flags().BoolVar(&flagCfg.Interactive, "interactive", false, "Open a visible browser window to log in manually.")
	runCmd.Flags().BoolVar(&flagCfg.SaveCookiesOnly, "save-cookies", false, "Log in, persist the session and exit.")
	runCmd.Flags().BoolVarP(&flagCfg.Debug, "debug", "d", false, "Enable debug logging.")
	rootCmd.AddCommand(runCmd)
}

// loadConfig layers the sources: config file and environment first, then
// any flag the user set explicitly on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	overlay := map[string]func(){
		"output-dir":    func() { cfg.OutputDir = flagCfg.OutputDir },
		"locale":        func() { cfg.Locale = flagCfg.Locale },
		"pattern":       func() { cfg.Pattern = flagCfg.Pattern },
		"saved":         func() { cfg.Saved = flagCfg.Saved },
		"separate-json": func() { cfg.SeparateJSON = flagCfg.SeparateJSON },
		"count":         func() { cfg.RecipeLimit = flagCfg.RecipeLimit },
		"workers":       func() { cfg.Workers = flagCfg.Workers },
		"rate":          func() { cfg.RequestsPerSecond = flagCfg.RequestsPerSecond },
		"force":         func() { cfg.Force = flagCfg.Force },
		"interactive":   func() { cfg.Interactive = flagCfg.Interactive },
		"save-cookies":  func() { cfg.SaveCookiesOnly = flagCfg.SaveCookiesOnly },
		"debug":         func() { cfg.Debug = flagCfg.Debug },
	}
	for name, apply := range overlay {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = filepath.Join(cfg.OutputDir, "session")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promptCredentials falls back to asking on the terminal when the
// environment carries no credentials and the run is not interactive.
func promptCredentials(cfg *config.Config) session.CredentialsFunc {
	return func() (fetch.Credentials, error) {
		creds := fetch.Credentials{Username: cfg.Username, Password: cfg.Password}
		reader := bufio.NewReader(os.Stdin)
		if creds.Username == "" {
			fmt.Fprint(os.Stderr, "Cookidoo email: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return fetch.Credentials{}, fmt.Errorf("reading username: %w", err)
			}
			creds.Username = strings.TrimSpace(line)
		}
		if creds.Password == "" {
			fmt.Fprint(os.Stderr, "Cookidoo password: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return fetch.Credentials{}, fmt.Errorf("reading password: %w", err)
			}
			creds.Password = strings.TrimSpace(line)
		}
		if creds.Username == "" || creds.Password == "" {
			return fetch.Credentials{}, errors.New("no credentials given")
		}
		return creds, nil
	}
}

func run(cmd *cobra.Command, args []string) error {
	// a .env file is the easiest place for COOKIDUMP_USERNAME/PASSWORD
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(fmt.Sprintf("could not load .env file: %v", err))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.InitializeDefaultLogger(cfg.Debug)
	ctx := log.ContextWithLogger(cmd.Context(), slog.Default())

	fetcher := fetch.NewDynamicFetcher(&fetch.FetcherConfig{
		UserAgent:         cfg.UserAgent,
		PageLoadWaitMS:    cfg.PageLoadWaitMS,
		Interactive:       cfg.Interactive,
		RequestsPerSecond: cfg.RequestsPerSecond,
		BaseURL:           cfg.BaseURL(),
		LoginURL:          cfg.LoginURL(),
	})
	defer fetcher.Cancel()

	store := session.NewStore(cfg.SessionDir, cfg.Locale, fetcher, promptCredentials(cfg))
	summary, err := pipeline.New(cfg, fetcher, store).Run(ctx)
	if err != nil {
		return err
	}
	if cfg.SaveCookiesOnly {
		slog.Info("session saved")
		return nil
	}

	pipeline.PrintSummary(summary)
	slog.Info(fmt.Sprintf("run finished in %s, %d unique recipes on disk", summary.Elapsed.Round(time.Millisecond), summary.Unique))
	if !summary.OK() {
		return errors.New("run finished with failures, re-run to retry the failed recipes")
	}
	return nil
}
