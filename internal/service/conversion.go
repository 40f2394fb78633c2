package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/timmy/papershelf/internal/artifact"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/fetcher"
	"github.com/timmy/papershelf/internal/logger"
	"github.com/timmy/papershelf/internal/storage"
	"github.com/timmy/papershelf/internal/tracker"
)

// Fetcher retrieves the raw payload of a paper.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// PayloadLoader supplies the raw payload for a synchronous conversion.
type PayloadLoader func(ctx context.Context, id string) ([]byte, error)

var (
	// ErrAlreadyConverted is returned by ConvertNow when the final artifact exists.
	ErrAlreadyConverted = errors.New("paper already converted")
	// ErrJobExists is returned by ConvertNow when the tracker already holds a record.
	ErrJobExists = errors.New("paper already has a tracked job")
)

// Extractor turns a raw payload on disk into text.
type Extractor interface {
	Extract(ctx context.Context, rawPath string) (string, error)
}

// ArtifactStore is the part of artifact.Store the conversion flow needs.
type ArtifactStore interface {
	Exists(id string, kind artifact.Kind) bool
	Path(id string, kind artifact.Kind) (string, error)
	WriteRaw(id string, data []byte) error
	WriteFinal(id string, text string) error
	ReadFinal(id string) (string, error)
	URI(id string) string
}

// JobRecorder persists finished jobs for audit.
type JobRecorder interface {
	Create(ctx context.Context, job *domain.ConversionJob) error
}

// MirrorConfig controls the optional upload of converted text to object storage.
type MirrorConfig struct {
	Storage storage.ObjectStorage
	Prefix  string
}

// ConversionService answers download and status requests and runs the
// fetch-and-convert jobs behind them.
type ConversionService struct {
	store      ArtifactStore
	fetcher    Fetcher
	extractor  Extractor
	tracker    *tracker.Tracker
	supervisor *Supervisor
	history    JobRecorder
	mirror     *MirrorConfig
	logger     *logger.Logger
}

// NewConversionService creates a conversion service.
// Parameters:
//   - store: artifact store holding raw and converted papers.
//   - f: fetcher for raw payloads.
//   - ex: extractor producing text from raw payloads.
//   - tr: tracker holding in-flight and recent job state.
//   - sup: supervisor running jobs and bounding extraction.
//   - log: logger instance.
//
// Returns:
//   - *ConversionService: initialized service; history and mirror are optional.
func NewConversionService(
	store ArtifactStore,
	f Fetcher,
	ex Extractor,
	tr *tracker.Tracker,
	sup *Supervisor,
	log *logger.Logger,
) *ConversionService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ConversionService{
		store:      store,
		fetcher:    f,
		extractor:  ex,
		tracker:    tr,
		supervisor: sup,
		logger:     log,
	}
}

// WithHistory enables persisting finished jobs.
func (s *ConversionService) WithHistory(h JobRecorder) *ConversionService {
	s.history = h
	return s
}

// WithMirror enables copying converted text to object storage after success.
func (s *ConversionService) WithMirror(m *MirrorConfig) *ConversionService {
	if m != nil && m.Storage != nil {
		s.mirror = m
	}
	return s
}

func (s *ConversionService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// RequestConversion reports the state of a paper and, unless statusOnly is
// set, starts a background job when the paper is neither converted nor
// tracked. It never fails: every outcome is a response payload.
func (s *ConversionService) RequestConversion(ctx context.Context, id string, statusOnly bool) (resp *domain.ConversionResponse) {
	id = strings.TrimSpace(id)
	ctx = logger.SetPaperID(ctx, id)

	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).WithField("panic", fmt.Sprint(r)).Error("Conversion request panicked")
			resp = domain.ErrorResponse(fmt.Sprintf("Unexpected error for paper %s: %v", id, r))
		}
	}()

	if err := artifact.ValidateID(id); err != nil {
		return domain.ErrorResponse(fmt.Sprintf("Invalid paper identifier %q: %v", id, err))
	}

	if statusOnly {
		return s.status(id)
	}

	if s.store.Exists(id, artifact.KindFinal) {
		return domain.ReadyResponse("Paper already available", s.store.URI(id))
	}

	status, created := s.tracker.Begin(id)
	if !created {
		return domain.JobResponse(status, s.store.URI(id))
	}

	ctx = logger.SetJobID(ctx, status.JobID)
	s.log(ctx).Info("Starting paper download")

	// The job outlives the request.
	detached := context.WithoutCancel(ctx)
	err := s.supervisor.Go(ctx,
		func(jobCtx context.Context) { s.run(jobCtx, id, s.fetcher.Fetch) },
		func(r interface{}) { s.fail(detached, id, fmt.Sprintf("Conversion of paper %s crashed: %v", id, r)) },
	)
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("Failed to download paper %s: %v", id, err))
		current, _ := s.tracker.Status(id)
		return domain.JobResponse(current, s.store.URI(id))
	}

	return domain.JobResponse(status, s.store.URI(id))
}

// status answers without starting work or touching the network.
func (s *ConversionService) status(id string) *domain.ConversionResponse {
	if st, ok := s.tracker.Status(id); ok {
		return domain.JobResponse(st, s.store.URI(id))
	}
	if s.store.Exists(id, artifact.KindFinal) {
		return domain.ReadyResponse("Paper is ready", s.store.URI(id))
	}
	return domain.UnknownResponse()
}

// Forget drops a finished job record so the next request starts over.
func (s *ConversionService) Forget(id string) bool {
	return s.tracker.Forget(strings.TrimSpace(id))
}

// Jobs returns a snapshot of all tracked jobs.
func (s *ConversionService) Jobs() []domain.JobStatus {
	return s.tracker.List()
}

// ConvertNow runs a conversion on the calling goroutine and returns the
// terminal record. A nil load fetches the payload upstream. With force set,
// a converted paper or a finished record is converted again.
func (s *ConversionService) ConvertNow(ctx context.Context, id string, load PayloadLoader, force bool) (domain.JobStatus, error) {
	id = strings.TrimSpace(id)
	ctx = logger.SetPaperID(ctx, id)

	if err := artifact.ValidateID(id); err != nil {
		return domain.JobStatus{}, fmt.Errorf("invalid paper identifier %q: %w", id, err)
	}
	if !force && s.store.Exists(id, artifact.KindFinal) {
		return domain.JobStatus{}, ErrAlreadyConverted
	}
	if force {
		s.tracker.Forget(id)
	}

	begun, created := s.tracker.Begin(id)
	if !created {
		return begun, ErrJobExists
	}
	if load == nil {
		load = s.fetcher.Fetch
	}
	ctx = logger.SetJobID(ctx, begun.JobID)

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.fail(ctx, id, fmt.Sprintf("Conversion of paper %s crashed: %v", id, r))
			}
		}()
		s.run(ctx, id, load)
	}()

	status, _ := s.tracker.Status(id)
	return status, nil
}

// run is the body of one job.
func (s *ConversionService) run(ctx context.Context, id string, load PayloadLoader) {
	start := time.Now()

	data, err := load(ctx, id)
	if err != nil {
		if errors.Is(err, fetcher.ErrNotFound) {
			s.fail(ctx, id, fmt.Sprintf("Paper %s not found on arXiv", id))
		} else {
			s.fail(ctx, id, fmt.Sprintf("Failed to download paper %s: %v", id, err))
		}
		return
	}
	logger.With(logger.Fields{logger.FieldPaperID: id}).
		WithSize(len(data)).
		WithDuration(time.Since(start).Milliseconds()).
		Info(ctx, "Paper downloaded")

	if err := s.store.WriteRaw(id, data); err != nil {
		s.fail(ctx, id, fmt.Sprintf("Storage error for paper %s: %v", id, err))
		return
	}

	if !s.advance(ctx, id, domain.PhaseConverting, "") {
		return
	}

	text, msg := s.convert(ctx, id)
	if msg != "" {
		s.fail(ctx, id, msg)
		return
	}

	if err := s.store.WriteFinal(id, text); err != nil {
		s.fail(ctx, id, fmt.Sprintf("Storage error for paper %s: %v", id, err))
		return
	}

	if !s.advance(ctx, id, domain.PhaseSucceeded, "") {
		return
	}
	logger.With(logger.Fields{logger.FieldPaperID: id}).
		WithSize(len(text)).
		WithDuration(time.Since(start).Milliseconds()).
		Info(ctx, "Paper converted")

	s.mirrorFinal(ctx, id, text)
}

// convert holds an extraction slot only for the duration of Extract.
// A non-empty message reports the failure.
func (s *ConversionService) convert(ctx context.Context, id string) (string, string) {
	rawPath, err := s.store.Path(id, artifact.KindRaw)
	if err != nil {
		return "", fmt.Sprintf("Storage error for paper %s: %v", id, err)
	}

	release, err := s.supervisor.Acquire(ctx)
	if err != nil {
		return "", fmt.Sprintf("Failed to convert paper %s: %v", id, err)
	}
	defer release()

	text, err := s.extractor.Extract(ctx, rawPath)
	if err != nil {
		return "", fmt.Sprintf("Failed to convert paper %s: %v", id, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Sprintf("Failed to convert paper %s: no text extracted", id)
	}
	return text, ""
}

func (s *ConversionService) advance(ctx context.Context, id string, to domain.Phase, msg string) bool {
	if err := s.tracker.Advance(id, to, msg); err != nil {
		s.log(ctx).WithError(err).Warn("Job state not updated")
		return false
	}
	if to.IsTerminal() {
		s.record(ctx, id)
	}
	return true
}

func (s *ConversionService) fail(ctx context.Context, id, msg string) {
	s.log(ctx).WithField(logger.FieldPhase, domain.PhaseFailed).Warn(msg)
	s.advance(ctx, id, domain.PhaseFailed, msg)
}

// record appends the terminal state to the job history. Failures are logged only.
func (s *ConversionService) record(ctx context.Context, id string) {
	if s.history == nil {
		return
	}
	st, ok := s.tracker.Status(id)
	if !ok {
		return
	}
	if err := s.history.Create(ctx, domain.NewConversionJob(st)); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to record conversion job")
	}
}

// mirrorFinal uploads converted text to object storage. It never changes job state.
func (s *ConversionService) mirrorFinal(ctx context.Context, id, text string) {
	if s.mirror == nil {
		return
	}
	key := MirrorKey(s.mirror.Prefix, id)
	data := []byte(text)
	if err := s.mirror.Storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "text/markdown; charset=utf-8"); err != nil {
		s.log(ctx).WithError(err).WithField("key", key).Warn("Failed to mirror converted paper")
		return
	}
	s.log(ctx).WithField("key", key).Debug("Converted paper mirrored")
}

// MirrorKey returns the object key for a paper's converted text. The name
// uses the same stem as the local store.
func MirrorKey(prefix, id string) string {
	name := artifact.EncodeID(id) + ".md"
	if prefix == "" {
		return name
	}
	return path.Join(strings.Trim(prefix, "/"), name)
}
