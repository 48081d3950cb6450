// Package pipeline wires session, enumeration, scheduling and export into
// one run. It owns the run order: a phase only starts once the previous
// one finished, and every phase's duration ends up in the run log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cookidump/cookidump/config"
	"github.com/cookidump/cookidump/dedup"
	"github.com/cookidump/cookidump/export"
	"github.com/cookidump/cookidump/extract"
	"github.com/cookidump/cookidump/fetch"
	"github.com/cookidump/cookidump/filter"
	"github.com/cookidump/cookidump/scheduler"
	"github.com/cookidump/cookidump/session"
	"github.com/cookidump/cookidump/types"
	"github.com/olekukonko/tablewriter"
)

// runLogName is the per-output-directory log of completed runs.
const runLogName = "run.log"

// Summary is what a run leaves behind besides the files on disk.
type Summary struct {
	Results []types.RunResult

	Collections int
	Listed      int
	New         int
	Skipped     int
	Failed      int
	// Unique counts distinct recipe ids across all collections.
	Unique int

	AuthLost bool
	Elapsed  time.Duration
}

// OK reports whether the run completed without losing any recipe.
func (s *Summary) OK() bool {
	if s.AuthLost {
		return false
	}
	if s.Failed > 0 {
		return false
	}
	for _, r := range s.Results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

type phaseTiming struct {
	name    string
	elapsed time.Duration
}

type Pipeline struct {
	cfg     *config.Config
	fetcher fetch.SessionFetcher
	store   *session.Store

	timings []phaseTiming
}

func New(cfg *config.Config, fetcher fetch.SessionFetcher, store *session.Store) *Pipeline {
	return &Pipeline{cfg: cfg, fetcher: fetcher, store: store}
}

func (p *Pipeline) phase(name string, started time.Time) {
	elapsed := time.Since(started)
	p.timings = append(p.timings, phaseTiming{name: name, elapsed: elapsed})
	slog.Debug(fmt.Sprintf("phase %s took %s", name, elapsed))
}

// Run executes a full capture run: authenticate, enumerate collections,
// filter them, scan what is already on disk, fetch and export what is
// missing and rewrite the master index.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()

	spec, err := filter.Parse(p.cfg.Pattern)
	if err != nil {
		return nil, err
	}

	phaseStart := time.Now()
	sess, err := p.store.Acquire(ctx, p.cfg.Interactive)
	if err != nil {
		return nil, err
	}
	p.phase("authenticate", phaseStart)
	slog.Info(fmt.Sprintf("authenticated, session from %s", sess.SavedAt.Format(time.RFC3339)))

	if p.cfg.SaveCookiesOnly {
		return &Summary{Elapsed: time.Since(started)}, nil
	}

	phaseStart = time.Now()
	collections, err := p.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	p.phase("enumerate", phaseStart)
	slog.Info(fmt.Sprintf("found %d collections", len(collections)))

	selected := p.selectCollections(collections, spec)
	if len(selected) == 0 {
		slog.Warn("no collection matches the pattern")
	}

	phaseStart = time.Now()
	index, err := dedup.Scan(filepath.Join(p.cfg.OutputDir, p.cfg.JSONDir))
	if err != nil {
		return nil, err
	}
	p.phase("scan", phaseStart)
	slog.Info(fmt.Sprintf("%d recipes already captured", index.UniqueRecipes()))

	exporter, err := export.New(p.cfg.OutputDir, p.cfg.JSONDir, p.cfg.SeparateJSON)
	if err != nil {
		return nil, err
	}

	phaseStart = time.Now()
	sched := scheduler.New(p.fetcher, spec, index, exporter, scheduler.Options{
		BaseURL:     p.cfg.BaseURL(),
		Force:       p.cfg.Force,
		RecipeLimit: p.cfg.RecipeLimit,
	})
	results := sched.Run(ctx, selected, p.cfg.Workers)
	p.phase("capture", phaseStart)

	phaseStart = time.Now()
	if err := exporter.WriteMasterIndex(results); err != nil {
		return nil, err
	}
	p.phase("index", phaseStart)

	summary := p.summarize(results, index, time.Since(started))
	if summary.AuthLost {
		// the persisted session no longer grants access, force a fresh
		// login on the next run
		if err := p.store.Invalidate(); err != nil {
			slog.Warn(fmt.Sprintf("could not invalidate session: %v", err))
		}
	}
	if err := p.appendRunLog(summary); err != nil {
		slog.Warn(fmt.Sprintf("could not append run log: %v", err))
	}
	return summary, nil
}

// enumerate loads the my-recipes page and collects the account's
// collections. Saved collections live on their own page and are only
// enumerated when the run asks for them.
func (p *Pipeline) enumerate(ctx context.Context) ([]types.Collection, error) {
	page, err := p.fetcher.Fetch(ctx, p.cfg.CollectionsURL(), fetch.FetchOpts{ScrollToEnd: true})
	if err != nil {
		return nil, err
	}
	if extract.IsLoginPage(page) {
		if err := p.store.Invalidate(); err != nil {
			slog.Warn(fmt.Sprintf("could not invalidate session: %v", err))
		}
		return nil, &session.AuthenticationError{Err: errors.New("session rejected on my-recipes page")}
	}

	collections, err := extract.FixedCollections(page, p.cfg.BaseURL())
	if err != nil {
		return nil, err
	}
	custom, err := extract.CustomCollections(page, p.cfg.BaseURL())
	if err != nil {
		return nil, err
	}
	collections = append(collections, custom...)

	if p.cfg.Saved {
		link, ok := extract.SavedCollectionsLink(page, p.cfg.BaseURL())
		if !ok {
			slog.Warn("saved collections requested but the account has none")
			return collections, nil
		}
		savedPage, err := p.fetcher.Fetch(ctx, link, fetch.FetchOpts{ScrollToEnd: true})
		if err != nil {
			return nil, err
		}
		saved, err := extract.SavedCollections(savedPage, p.cfg.BaseURL())
		if err != nil {
			return nil, err
		}
		collections = append(collections, saved...)
	}
	return collections, nil
}

// selectCollections applies the collection side of the pattern. Saved
// collections were requested explicitly, so they bypass it; the recipe
// side of the pattern still applies inside them.
func (p *Pipeline) selectCollections(collections []types.Collection, spec *filter.Spec) []types.Collection {
	var selected []types.Collection
	for _, col := range collections {
		if col.Kind == types.KindSaved && p.cfg.Saved {
			selected = append(selected, col)
			continue
		}
		if spec.MatchesCollection(col.Title) {
			selected = append(selected, col)
		}
	}
	return selected
}

func (p *Pipeline) summarize(results []types.RunResult, index *dedup.Index, elapsed time.Duration) *Summary {
	s := &Summary{
		Results:     results,
		Collections: len(results),
		Unique:      index.UniqueRecipes(),
		Elapsed:     elapsed,
	}
	for _, r := range results {
		s.Listed += r.Listed
		s.New += r.New
		s.Skipped += r.Skipped
		s.Failed += r.Failed
		if errors.Is(r.Err, scheduler.ErrAuthLost) {
			s.AuthLost = true
		}
	}
	return s
}

// appendRunLog adds one line per run to the output directory's run log, so
// the directory carries its own history across incremental runs.
func (p *Pipeline) appendRunLog(s *Summary) error {
	f, err := os.OpenFile(filepath.Join(p.cfg.OutputDir, runLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("%s\tcollections=%d listed=%d new=%d skipped=%d failed=%d unique=%d elapsed=%s",
		time.Now().UTC().Format(time.RFC3339), s.Collections, s.Listed, s.New, s.Skipped, s.Failed, s.Unique,
		s.Elapsed.Round(time.Millisecond))
	for _, t := range p.timings {
		line += fmt.Sprintf(" %s=%s", t.name, t.elapsed.Round(time.Millisecond))
	}
	if s.AuthLost {
		line += " auth_lost=true"
	}
	_, err = fmt.Fprintln(f, line)
	return err
}

// PrintSummary renders a per-collection table to stdout. Rows with
// failures turn red, rows that produced nothing turn yellow.
func PrintSummary(s *Summary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Collection", "Listed", "New", "Skipped", "Failed", "Captured"})

	red := []tablewriter.Colors{}
	yellow := []tablewriter.Colors{}
	for i := 0; i < 6; i++ {
		red = append(red, tablewriter.Colors{tablewriter.Normal, tablewriter.FgRedColor})
		yellow = append(yellow, tablewriter.Colors{tablewriter.Normal, tablewriter.FgYellowColor})
	}

	total := types.RunResult{}
	for _, r := range s.Results {
		row := []string{r.Collection.Title, strconv.Itoa(r.Listed), strconv.Itoa(r.New),
			strconv.Itoa(r.Skipped), strconv.Itoa(r.Failed), strconv.Itoa(r.Captured)}
		if r.Failed > 0 || r.Err != nil {
			table.Rich(row, red)
		} else if r.New == 0 && r.Skipped == 0 {
			table.Rich(row, yellow)
		} else {
			table.Append(row)
		}
		total.Listed += r.Listed
		total.New += r.New
		total.Skipped += r.Skipped
		total.Failed += r.Failed
	}
	table.SetFooter([]string{"total", strconv.Itoa(total.Listed), strconv.Itoa(total.New),
		strconv.Itoa(total.Skipped), strconv.Itoa(total.Failed), strconv.Itoa(s.Unique)})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
	table.SetBorder(false)
	table.Render()
}
