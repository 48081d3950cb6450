// Package scheduler fans collection processing out to a bounded worker
// pool. Collections are independent of each other, so workers run them in
// any order; the only shared state is the dedup index and the exporter,
// both of which serialize conflicting writes themselves.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cookidump/cookidump/dedup"
	"github.com/cookidump/cookidump/export"
	"github.com/cookidump/cookidump/extract"
	"github.com/cookidump/cookidump/fetch"
	"github.com/cookidump/cookidump/filter"
	"github.com/cookidump/cookidump/log"
	"github.com/cookidump/cookidump/types"
)

// ErrAuthLost is reported when a worker finds itself on the login page.
// It cancels the whole run: every other worker finishes its current recipe
// and stops accepting new ones.
var ErrAuthLost = errors.New("authentication lost mid-run")

// maxWorkers caps the pool regardless of CPU count; every worker keeps a
// browser tab busy.
const maxWorkers = 20

// fetchRetries bounds how often a single failing page load is retried
// before the item is recorded as failed.
const fetchRetries = 2

type Scheduler struct {
	fetcher  fetch.Fetcher
	spec     *filter.Spec
	index    *dedup.Index
	exporter *export.Exporter

	baseURL     string
	force       bool
	recipeLimit int

	cancelRun context.CancelFunc
}

type Options struct {
	BaseURL string
	// Force re-fetches recipes that are already captured.
	Force bool
	// RecipeLimit truncates a collection's listing. Zero means no limit.
	RecipeLimit int
}

func New(fetcher fetch.Fetcher, spec *filter.Spec, index *dedup.Index, exporter *export.Exporter, opts Options) *Scheduler {
	return &Scheduler{
		fetcher:     fetcher,
		spec:        spec,
		index:       index,
		exporter:    exporter,
		baseURL:     opts.BaseURL,
		force:       opts.Force,
		recipeLimit: opts.RecipeLimit,
	}
}

// Run processes the given collections with a pool of workerCount workers.
// workerCount <= 0 sizes the pool to the available CPUs. A single
// collection's failure never aborts its siblings; only authentication loss
// cancels the run.
func (s *Scheduler) Run(ctx context.Context, collections []types.Collection, workerCount int) []types.RunResult {
	if len(collections) == 0 {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel

	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	workerCount = min(workerCount, len(collections), maxWorkers)
	slog.Info(fmt.Sprintf("running with %d workers", workerCount))

	cc := make(chan types.Collection)
	rc := make(chan types.RunResult)

	// fill worker queue; collections we never got to before a
	// cancellation are reported after the pool drains
	var skipped []types.RunResult
	var fillerWg sync.WaitGroup
	fillerWg.Add(1)
	go func() {
		defer fillerWg.Done()
		defer close(cc)
		for _, col := range collections {
			select {
			case cc <- col:
			case <-runCtx.Done():
				skipped = append(skipped, types.RunResult{Collection: col, Err: runCtx.Err()})
			}
		}
	}()

	var workerWg sync.WaitGroup
	workerWg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(workerNr int) {
			defer workerWg.Done()
			s.worker(runCtx, cc, rc, workerNr)
		}(i)
	}
	go func() {
		workerWg.Wait()
		close(rc)
	}()

	results := []types.RunResult{}
	for res := range rc {
		results = append(results, res)
	}
	fillerWg.Wait()
	return append(results, skipped...)
}

func (s *Scheduler) worker(ctx context.Context, cc <-chan types.Collection, rc chan<- types.RunResult, workerNr int) {
	workerLogger := log.LoggerFromContext(ctx).With(slog.Int("worker", workerNr))
	for col := range cc {
		collectionLogger := workerLogger.With(slog.String("collection", col.Title))
		collectionLogger.Info("starting collection")
		res := s.processCollection(log.ContextWithLogger(ctx, collectionLogger), col)
		if res.Err != nil {
			collectionLogger.Error(fmt.Sprintf("collection failed: %v", res.Err))
		} else {
			collectionLogger.Info(fmt.Sprintf("collection done: %d listed, %d new, %d skipped, %d failed",
				res.Listed, res.New, res.Skipped, res.Failed))
		}
		rc <- res
	}
	workerLogger.Debug("done working")
}

func (s *Scheduler) processCollection(ctx context.Context, col types.Collection) types.RunResult {
	logger := log.LoggerFromContext(ctx)
	res := types.RunResult{Collection: col}

	page, err := s.fetchWithRetry(ctx, col.URL, fetch.FetchOpts{ScrollToEnd: true})
	if err != nil {
		res.Err = err
		return res
	}
	if extract.IsLoginPage(page) {
		s.cancelRun()
		res.Err = ErrAuthLost
		return res
	}

	recipes, err := extract.RecipeTiles(page, col.Kind, s.baseURL)
	if err != nil {
		res.Err = err
		return res
	}
	if count := extract.HeaderCount(page); count >= 0 {
		res.Collection.HeaderCount = count
		if count != len(recipes) {
			logger.Warn(fmt.Sprintf("recipe count mismatch: %d in header, %d on page", count, len(recipes)))
		}
	}
	if s.recipeLimit > 0 && len(recipes) > s.recipeLimit {
		recipes = recipes[:s.recipeLimit]
	}
	res.Listed = len(recipes)

	// the list file covers everything listed, captured or not
	if err := s.exporter.WriteCollectionList(res.Collection, recipes); err != nil {
		res.Err = err
		return res
	}

	// ids buffered for the aggregate file, not yet durable
	var pendingIDs []string
	for _, r := range recipes {
		if ctx.Err() != nil {
			// run cancelled, stop accepting new recipes
			res.Err = ctx.Err()
			break
		}
		if !s.spec.MatchesRecipe(r.Title) {
			continue
		}
		if !s.force && s.index.IsCaptured(r.ID, col.ID) {
			res.Skipped++
			continue
		}
		detail, err := s.fetchRecipe(ctx, r, col.Kind)
		if err != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, r.ID)
			logger.Warn(fmt.Sprintf("recipe %s failed: %v", r.ID, err))
			if errors.Is(err, ErrAuthLost) {
				s.cancelRun()
				res.Err = ErrAuthLost
				break
			}
			continue
		}
		location, err := s.exporter.WriteRecipe(col.ID, detail)
		if err != nil {
			// the artifact never became durable, so the dedup index is
			// not updated and the next run retries this recipe
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, r.ID)
			logger.Warn(fmt.Sprintf("recipe %s could not be written: %v", r.ID, err))
			continue
		}
		if location != "" {
			s.index.MarkCaptured(r.ID, col.ID, location)
		} else {
			pendingIDs = append(pendingIDs, r.ID)
		}
		res.New++
	}

	locations, err := s.exporter.FinishCollection(col.ID)
	if err != nil {
		// the aggregate never became durable, everything buffered for it
		// failed together
		res.Failed += len(pendingIDs)
		res.FailedIDs = append(res.FailedIDs, pendingIDs...)
		res.New -= len(pendingIDs)
		res.Err = err
		return res
	}
	for id, location := range locations {
		s.index.MarkCaptured(id, col.ID, location)
	}
	res.Captured = len(s.index.CapturedIDs(col.ID))
	return res
}

// fetchRecipe loads and extracts one recipe page, retrying transient fetch
// failures with exponential backoff.
func (s *Scheduler) fetchRecipe(ctx context.Context, r types.Recipe, kind types.CollectionKind) (*types.RecipeDetail, error) {
	page, err := s.fetchWithRetry(ctx, r.URL, fetch.FetchOpts{})
	if err != nil {
		return nil, err
	}
	if extract.IsLoginPage(page) {
		return nil, ErrAuthLost
	}
	return extract.Recipe(page, r, kind)
}

func (s *Scheduler) fetchWithRetry(ctx context.Context, url string, opts fetch.FetchOpts) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(b, fetchRetries), ctx)

	var page string
	op := func() error {
		p, err := s.fetcher.Fetch(ctx, url, opts)
		if err != nil {
			var transient *fetch.TransientFetchError
			if errors.As(err, &transient) {
				return err
			}
			return backoff.Permanent(err)
		}
		page = p
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return page, nil
}
