package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/logger"
	"github.com/timmy/papershelf/internal/source"
)

// IngestService bulk-converts papers from import sources and retries
// failed jobs.
type IngestService struct {
	conversions *ConversionService
	catalog     PaperCatalog
	logger      *logger.Logger
	workers     int
	batchSize   int
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers   int
	BatchSize int
}

// NewIngestService creates a new ingest service. catalog may be nil.
func NewIngestService(conversions *ConversionService, catalog PaperCatalog, log *logger.Logger, cfg *IngestConfig) *IngestService {
	if log == nil {
		log = logger.GetDefault()
	}
	workers, batchSize := cfg.Workers, cfg.BatchSize
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 50
	}
	return &IngestService{
		conversions: conversions,
		catalog:     catalog,
		logger:      log,
		workers:     workers,
		batchSize:   batchSize,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	SkippedItems   int64     `json:"skipped_items"`
	FailedItems    int64     `json:"failed_items"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// IngestOptions holds options for ingestion
type IngestOptions struct {
	Force bool // reconvert papers that are already available
}

// IngestFromSource converts up to limit papers offered by src.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}

	stats := &IngestStats{
		StartTime: time.Now(),
	}

	s.log(ctx).WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
		"force":  opts.Force,
	}).Info("Starting ingestion")

	itemsChan := make(chan source.PaperItem, s.workers*2)
	resultsChan := make(chan *processResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			s.collect(ctx, stats, result)
		}
		close(done)
	}()

	var fetchErr error
	cursor := ""
	totalFetched := 0
feed:
	for ctx.Err() == nil {
		remaining := limit - totalFetched
		if remaining <= 0 {
			break
		}

		batchLimit := s.batchSize
		if batchLimit > remaining {
			batchLimit = remaining
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			fetchErr = fmt.Errorf("failed to fetch batch from %s: %w", src.GetSourceID(), err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break feed
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()

	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Ingestion completed")

	return stats, fetchErr
}

type processResult struct {
	paperID string
	skipped bool
	err     error
}

func (s *IngestService) collect(ctx context.Context, stats *IngestStats, result *processResult) {
	atomic.AddInt64(&stats.ProcessedItems, 1)
	switch {
	case result.skipped:
		atomic.AddInt64(&stats.SkippedItems, 1)
	case result.err != nil:
		atomic.AddInt64(&stats.FailedItems, 1)
		s.log(ctx).WithField(logger.FieldPaperID, result.paperID).
			WithError(result.err).Error("Failed to process item")
	}
}

func (s *IngestService) worker(ctx context.Context, items <-chan source.PaperItem, results chan<- *processResult, opts *IngestOptions) {
	for item := range items {
		if ctx.Err() != nil {
			// drain so the feeder never blocks
			continue
		}

		result := &processResult{paperID: item.PaperID}
		if err := s.processItem(ctx, item, opts); err != nil {
			if errors.Is(err, ErrAlreadyConverted) || errors.Is(err, ErrJobExists) {
				result.skipped = true
			} else {
				result.err = err
			}
		}
		results <- result
	}
}

func (s *IngestService) processItem(ctx context.Context, item source.PaperItem, opts *IngestOptions) error {
	if item.LocalPath == "" {
		return fmt.Errorf("item %s has no local file", item.PaperID)
	}
	load := func(context.Context, string) ([]byte, error) {
		return os.ReadFile(item.LocalPath)
	}

	status, err := s.conversions.ConvertNow(ctx, item.PaperID, load, opts.Force)
	if err != nil {
		return err
	}
	if status.Phase != domain.PhaseSucceeded {
		return errors.New(status.Error)
	}

	if item.HasMetadata() && s.catalog != nil {
		paper := &domain.Paper{
			ID:         item.PaperID,
			Title:      item.Title,
			Authors:    domain.StringArray(item.Authors),
			Abstract:   item.Abstract,
			Categories: domain.StringArray(item.Categories),
			Published:  item.Published,
			PDFURL:     item.SourceURL,
		}
		if err := s.catalog.UpsertBatch(ctx, []*domain.Paper{paper}); err != nil {
			s.log(ctx).WithError(err).WithField(logger.FieldPaperID, item.PaperID).Warn("Failed to catalog imported paper")
		}
	}
	return nil
}

// RetryFailed forgets up to limit failed jobs and converts those papers again
// from upstream, one at a time.
func (s *IngestService) RetryFailed(ctx context.Context, limit int) (*IngestStats, error) {
	stats := &IngestStats{
		StartTime: time.Now(),
	}

	var failed []string
	for _, job := range s.conversions.Jobs() {
		if job.Phase == domain.PhaseFailed {
			failed = append(failed, job.PaperID)
		}
		if limit > 0 && len(failed) >= limit {
			break
		}
	}
	stats.TotalItems = int64(len(failed))

	for _, id := range failed {
		if ctx.Err() != nil {
			break
		}
		s.conversions.Forget(id)

		status, err := s.conversions.ConvertNow(ctx, id, nil, false)
		s.collect(ctx, stats, &processResult{
			paperID: id,
			skipped: errors.Is(err, ErrAlreadyConverted) || errors.Is(err, ErrJobExists),
			err:     retryError(status, err),
		})
	}

	stats.EndTime = time.Now()
	return stats, ctx.Err()
}

func retryError(status domain.JobStatus, err error) error {
	if err != nil {
		return err
	}
	if status.Phase != domain.PhaseSucceeded {
		return errors.New(status.Error)
	}
	return nil
}
