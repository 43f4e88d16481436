// Package mapper runs the two batch phases over a photo collection: the
// map phase decides which roster identity each photograph belongs to, the
// generate phase produces a standardized portrait crop for each matched
// identity. Both phases support sequential and bounded-parallel scheduling.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/mvelasco/photo-mapper/internal/ai"
	"github.com/mvelasco/photo-mapper/internal/match"
	"github.com/mvelasco/photo-mapper/internal/roster"
)

// ErrNotFound marks an identity with no candidate photo file. The item is
// skipped, never failed.
var ErrNotFound = errors.New("no photo found for identity")

// ProgressInfo carries per-item progress to an optional callback.
type ProgressInfo struct {
	Phase   string // "mapping" or "generating"
	Current int
	Total   int
	Item    string
}

// Options controls batch scheduling and reporting.
type Options struct {
	Concurrency int  // worker count, <= 1 means strictly sequential
	Quiet       bool // suppress the terminal progress bar
	OnProgress  func(ProgressInfo)
}

func (o Options) workers() int {
	if o.Concurrency <= 1 {
		return 1
	}
	return o.Concurrency
}

// MapReport is the map-phase batch summary.
type MapReport struct {
	RunID      string
	Results    []match.MappingResult
	Matched    int
	Unmatched  int
	Failed     int
	TierCounts map[match.Tier]int
	Elapsed    time.Duration
	Errors     []error
}

// Mapper drives the map phase.
type Mapper struct {
	matcher *match.Matcher
}

func NewMapper(matcher *match.Matcher) *Mapper {
	return &Mapper{matcher: matcher}
}

// itemResult keeps per-photo outcomes ordered while workers race.
type itemResult struct {
	index  int
	result match.MappingResult
	err    error
}

// MapPhotos matches every photograph against the roster. Accepted matches
// mutate the shared identities slice in place. A quota rejection from the
// judge stops further provider calls; remaining items are recorded as
// failed instead of burning the rest of the quota window.
func (m *Mapper) MapPhotos(ctx context.Context, photos []match.PhotoMetadata, identities []roster.Identity, opts Options) (*MapReport, error) {
	start := time.Now()
	report := &MapReport{
		RunID:      uuid.NewString(),
		Results:    make([]match.MappingResult, 0, len(photos)),
		TierCounts: make(map[match.Tier]int),
	}
	if len(photos) == 0 {
		report.Elapsed = time.Since(start)
		return report, nil
	}

	bar := newProgressBar(len(photos), "Mapping photos", opts.Quiet)

	var (
		wg          sync.WaitGroup
		completed   atomic.Int64
		quotaHit    atomic.Bool
		semaphore   = make(chan struct{}, opts.workers())
		resultsChan = make(chan itemResult, len(photos))
	)

	reportProgress := func(item string) {
		current := int(completed.Add(1))
		_ = bar.Add(1)
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:   "mapping",
				Current: current,
				Total:   len(photos),
				Item:    item,
			})
		}
	}

	for i := range photos {
		wg.Add(1)
		go func(idx int, photo match.PhotoMetadata) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				resultsChan <- itemResult{index: idx, err: err}
				reportProgress(photo.FileName)
				return
			}
			if quotaHit.Load() {
				resultsChan <- itemResult{index: idx, err: fmt.Errorf("%s: %w", photo.FileName, ai.ErrQuotaExceeded)}
				reportProgress(photo.FileName)
				return
			}

			result, err := m.matchOne(ctx, photo, identities)
			if err != nil {
				if ai.IsQuota(err) {
					quotaHit.Store(true)
				}
				resultsChan <- itemResult{index: idx, err: fmt.Errorf("failed to match %s: %w", photo.FileName, err)}
				reportProgress(photo.FileName)
				return
			}

			resultsChan <- itemResult{index: idx, result: result}
			reportProgress(photo.FileName)
		}(i, photos[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	ordered := make([]*itemResult, len(photos))
	for r := range resultsChan {
		r := r
		ordered[r.index] = &r
	}
	finishProgressBar(bar, opts.Quiet)

	for i, r := range ordered {
		if r == nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("no result for photo at index %d", i))
			continue
		}
		if r.err != nil {
			report.Failed++
			report.Errors = append(report.Errors, r.err)
			continue
		}
		report.Results = append(report.Results, r.result)
		report.TierCounts[r.result.Tier]++
		if r.result.MatchedID != "" {
			report.Matched++
		} else {
			report.Unmatched++
		}
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

// matchOne contains a single match attempt: a panic inside the matcher or
// a provider SDK fails that photo only, never the batch or the process.
func (m *Mapper) matchOne(ctx context.Context, photo match.PhotoMetadata, identities []roster.Identity) (result match.MappingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while matching %s: %v", photo.FileName, r)
		}
	}()
	return m.matcher.Match(ctx, photo, identities)
}

func newProgressBar(total int, description string, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func finishProgressBar(bar *progressbar.ProgressBar, quiet bool) {
	_ = bar.Finish()
	if !quiet {
		fmt.Println()
	}
}
