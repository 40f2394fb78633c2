package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/papershelf/internal/artifact"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/extractor"
	"github.com/timmy/papershelf/internal/fetcher"
	"github.com/timmy/papershelf/internal/tracker"
)

type fakeFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
	data  []byte
	err   error
	panic bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panic {
		panic("fetcher exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return []byte("%PDF-1.4 fake " + id), nil
}

type fakeExtractor struct {
	calls   atomic.Int32
	gate    chan struct{}
	text    string
	err     error
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (e *fakeExtractor) Extract(ctx context.Context, rawPath string) (string, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.err != nil {
		return "", e.err
	}
	if e.text != "" {
		return e.text, nil
	}
	return "## Page 1\n\nconverted " + rawPath + "\n", nil
}

type fakeHistory struct {
	mu   sync.Mutex
	jobs []*domain.ConversionJob
}

// Create rejects cancelled contexts the way a database driver does.
func (h *fakeHistory) Create(ctx context.Context, job *domain.ConversionJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return nil
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (s *fakeObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if s.err != nil {
		return s.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[key] = string(data)
	return nil
}

func (s *fakeObjectStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (s *fakeObjectStorage) GetURL(key string) string { return "https://mirror.example/" + key }

func (s *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

type harness struct {
	svc   *ConversionService
	store *artifact.Store
	tr    *tracker.Tracker
	sup   *Supervisor
	f     *fakeFetcher
	ex    *fakeExtractor
}

func newHarness(t *testing.T, f *fakeFetcher, ex *fakeExtractor, workers int) *harness {
	t.Helper()
	if f == nil {
		f = &fakeFetcher{}
	}
	if ex == nil {
		ex = &fakeExtractor{}
	}
	store := artifact.NewStore(t.TempDir())
	tr := tracker.New()
	sup := NewSupervisor(workers)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	return &harness{
		svc:   NewConversionService(store, f, ex, tr, sup, nil),
		store: store,
		tr:    tr,
		sup:   sup,
		f:     f,
		ex:    ex,
	}
}

func waitForStatus(t *testing.T, svc *ConversionService, id, want string) *domain.ConversionResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := svc.RequestConversion(context.Background(), id, true)
		if resp.Status == want {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("status of %s = %q (%s), want %q", id, resp.Status, resp.Message, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusOnlyUnknownPaper(t *testing.T) {
	h := newHarness(t, nil, nil, 1)

	resp := h.svc.RequestConversion(context.Background(), "2301.00001", true)
	if resp.Status != domain.StatusUnknown {
		t.Fatalf("status = %q, want unknown", resp.Status)
	}
	if resp.Message != "No download or conversion in progress" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.ResourceURI != "" {
		t.Errorf("unexpected resource uri %q", resp.ResourceURI)
	}
	if h.f.calls.Load() != 0 {
		t.Error("status-only request must not fetch")
	}
	if _, ok := h.tr.Status("2301.00001"); ok {
		t.Error("status-only request must not create a record")
	}
}

func TestCachedPaperSkipsFetchAndExtract(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	if err := h.store.WriteFinal("2301.00002", "cached text"); err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}

	resp := h.svc.RequestConversion(context.Background(), "2301.00002", false)
	if resp.Status != string(domain.PhaseSucceeded) {
		t.Fatalf("status = %q, want success", resp.Status)
	}
	if resp.Message != "Paper already available" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.ResourceURI != h.store.URI("2301.00002") {
		t.Errorf("resource uri = %q", resp.ResourceURI)
	}

	status := h.svc.RequestConversion(context.Background(), "2301.00002", true)
	if status.Status != string(domain.PhaseSucceeded) || status.Message != "Paper is ready" {
		t.Errorf("status-only = %+v", status)
	}

	h.sup.Wait()
	if h.f.calls.Load() != 0 || h.ex.calls.Load() != 0 {
		t.Errorf("fetch calls = %d, extract calls = %d; want 0", h.f.calls.Load(), h.ex.calls.Load())
	}
	if _, ok := h.tr.Status("2301.00002"); ok {
		t.Error("cached paper must bypass the tracker")
	}
}

func TestRapidRequestsStartOneJob(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &fakeFetcher{gate: gate}, nil, 1)
	ctx := context.Background()

	first := h.svc.RequestConversion(ctx, "2301.00003", false)
	second := h.svc.RequestConversion(ctx, "2301.00003", false)

	for _, resp := range []*domain.ConversionResponse{first, second} {
		if resp.Status != string(domain.PhaseFetching) {
			t.Errorf("status = %q, want downloading", resp.Status)
		}
	}

	close(gate)
	h.sup.Wait()

	if n := h.f.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	if n := len(h.tr.List()); n != 1 {
		t.Errorf("tracker records = %d, want 1", n)
	}
}

func TestConcurrentRequestsStartOneJob(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &fakeFetcher{gate: gate}, nil, 2)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.RequestConversion(context.Background(), "2301.00004", false)
		}()
	}
	wg.Wait()
	close(gate)
	h.sup.Wait()

	if n := h.f.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestSuccessfulJobTransitions(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	var mu sync.Mutex
	var phases []domain.Phase
	h.tr.Subscribe(func(s domain.JobStatus) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	h.svc.RequestConversion(context.Background(), "2301.00005", false)
	h.sup.Wait()

	want := []domain.Phase{domain.PhaseFetching, domain.PhaseConverting, domain.PhaseSucceeded}
	mu.Lock()
	got := append([]domain.Phase(nil), phases...)
	mu.Unlock()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}

	st, ok := h.tr.Status("2301.00005")
	if !ok {
		t.Fatal("record missing after success")
	}
	if st.CompletedAt == nil || st.CompletedAt.Before(st.StartedAt) {
		t.Errorf("CompletedAt %v must not precede StartedAt %v", st.CompletedAt, st.StartedAt)
	}
	text, err := h.store.ReadFinal("2301.00005")
	if err != nil || text == "" {
		t.Errorf("final artifact = %q, %v", text, err)
	}
	if !h.store.Exists("2301.00005", artifact.KindRaw) {
		t.Error("raw artifact should be kept after success")
	}

	resp := h.svc.RequestConversion(context.Background(), "2301.00005", false)
	if resp.Status != string(domain.PhaseSucceeded) || resp.ResourceURI == "" {
		t.Errorf("follow-up request = %+v", resp)
	}
}

// Scenario: the upstream has no such paper.
func TestNotFoundPaper(t *testing.T) {
	h := newHarness(t, &fakeFetcher{err: fmt.Errorf("%w: 9999.00000", fetcher.ErrNotFound)}, nil, 1)
	ctx := context.Background()

	first := h.svc.RequestConversion(ctx, "9999.00000", false)
	if first.Status != string(domain.PhaseFetching) {
		t.Fatalf("first status = %q, want downloading", first.Status)
	}
	h.sup.Wait()

	resp := h.svc.RequestConversion(ctx, "9999.00000", true)
	if resp.Status != string(domain.PhaseFailed) {
		t.Fatalf("status = %q, want error", resp.Status)
	}
	if !strings.Contains(resp.Error, "9999.00000") || !strings.Contains(resp.Error, "not found") {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if h.store.Exists("9999.00000", artifact.KindRaw) || h.store.Exists("9999.00000", artifact.KindFinal) {
		t.Error("no artifact should exist for a missing paper")
	}
	if h.ex.calls.Load() != 0 {
		t.Error("extractor must not run")
	}
}

// Scenario: polling observes every phase, then a full request reports success.
func TestPollingThroughPhases(t *testing.T) {
	fetchGate := make(chan struct{})
	extractGate := make(chan struct{})
	h := newHarness(t, &fakeFetcher{gate: fetchGate}, &fakeExtractor{gate: extractGate}, 1)
	ctx := context.Background()
	const id = "1111.11111"

	resp := h.svc.RequestConversion(ctx, id, false)
	if resp.Status != string(domain.PhaseFetching) {
		t.Fatalf("initial status = %q", resp.Status)
	}
	if resp.StartedAt == nil {
		t.Error("StartedAt missing")
	}
	waitForStatus(t, h.svc, id, string(domain.PhaseFetching))

	close(fetchGate)
	waitForStatus(t, h.svc, id, string(domain.PhaseConverting))

	close(extractGate)
	done := waitForStatus(t, h.svc, id, string(domain.PhaseSucceeded))
	if done.ResourceURI != h.store.URI(id) {
		t.Errorf("resource uri = %q", done.ResourceURI)
	}

	full := h.svc.RequestConversion(ctx, id, false)
	if full.Status != string(domain.PhaseSucceeded) || full.ResourceURI == "" {
		t.Errorf("full request = %+v", full)
	}
	if n := h.f.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestJobFailureMessages(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
		extract *fakeExtractor
		prefix  string
	}{
		{
			name:    "transport failure",
			fetcher: &fakeFetcher{err: &fetcher.TransportError{PaperID: "2301.00006", StatusCode: 503}},
			prefix:  "Failed to download paper 2301.00006",
		},
		{
			name:    "conversion failure",
			extract: &fakeExtractor{err: fmt.Errorf("%w: broken pdf", extractor.ErrConversion)},
			prefix:  "Failed to convert paper 2301.00006",
		},
		{
			name:    "blank conversion",
			extract: &fakeExtractor{text: "   \n"},
			prefix:  "Failed to convert paper 2301.00006",
		},
		{
			name:    "job panic",
			fetcher: &fakeFetcher{panic: true},
			prefix:  "Conversion of paper 2301.00006 crashed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.fetcher, tt.extract, 1)
			h.svc.RequestConversion(context.Background(), "2301.00006", false)
			h.sup.Wait()

			resp := h.svc.RequestConversion(context.Background(), "2301.00006", true)
			if resp.Status != string(domain.PhaseFailed) {
				t.Fatalf("status = %q, want error", resp.Status)
			}
			if !strings.HasPrefix(resp.Error, tt.prefix) {
				t.Errorf("error = %q, want prefix %q", resp.Error, tt.prefix)
			}
			if h.store.Exists("2301.00006", artifact.KindFinal) {
				t.Error("final artifact must not exist after failure")
			}
		})
	}
}

func TestErrorRecordIsNotRetriedUntilForgotten(t *testing.T) {
	f := &fakeFetcher{err: &fetcher.TransportError{PaperID: "2301.00007", StatusCode: 502}}
	h := newHarness(t, f, nil, 1)
	ctx := context.Background()

	h.svc.RequestConversion(ctx, "2301.00007", false)
	h.sup.Wait()

	resp := h.svc.RequestConversion(ctx, "2301.00007", false)
	h.sup.Wait()
	if resp.Status != string(domain.PhaseFailed) {
		t.Fatalf("status = %q, want error", resp.Status)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}

	if !h.svc.Forget("2301.00007") {
		t.Fatal("Forget returned false for a terminal record")
	}
	f.err = nil
	h.svc.RequestConversion(ctx, "2301.00007", false)
	h.sup.Wait()

	waitForStatus(t, h.svc, "2301.00007", string(domain.PhaseSucceeded))
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}

func TestInvalidIdentifier(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	for _, id := range []string{"", "  ", "../etc/passwd", "2301.00001?x=1", "2301.00001#frag", "2301 00001"} {
		resp := h.svc.RequestConversion(context.Background(), id, false)
		if resp.Status != string(domain.PhaseFailed) {
			t.Errorf("RequestConversion(%q) status = %q, want error", id, resp.Status)
		}
		if !strings.HasPrefix(resp.Error, "Invalid paper identifier") {
			t.Errorf("RequestConversion(%q) error = %q", id, resp.Error)
		}
	}
	if h.f.calls.Load() != 0 {
		t.Error("invalid identifiers must not be fetched")
	}
}

func TestUnderscoreIDDoesNotMatchOldStyleArtifact(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	if err := h.store.WriteFinal("hep-th/9901001", "cached text"); err != nil {
		t.Fatal(err)
	}

	resp := h.svc.RequestConversion(context.Background(), "hep-th_9901001", false)
	if resp.Message == "Paper already available" {
		t.Fatalf("hep-th_9901001 reused the artifact of hep-th/9901001: %+v", resp)
	}
	h.sup.Wait()

	if n := h.f.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	if resp.ResourceURI == h.store.URI("hep-th/9901001") {
		t.Errorf("resource uri %q shared between ids", resp.ResourceURI)
	}
	text, err := h.store.ReadFinal("hep-th/9901001")
	if err != nil || text != "cached text" {
		t.Errorf("old-style artifact = %q, %v", text, err)
	}
}

func TestExtractionIsBounded(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExtractor{gate: gate}
	h := newHarness(t, nil, ex, 1)

	ids := []string{"2301.10001", "2301.10002", "2301.10003"}
	for _, id := range ids {
		h.svc.RequestConversion(context.Background(), id, false)
	}
	for _, id := range ids {
		waitForStatus(t, h.svc, id, string(domain.PhaseConverting))
	}
	close(gate)
	h.sup.Wait()

	if ex.maxSeen != 1 {
		t.Errorf("max concurrent extractions = %d, want 1", ex.maxSeen)
	}
	for _, id := range ids {
		if !h.store.Exists(id, artifact.KindFinal) {
			t.Errorf("%s not converted", id)
		}
	}
}

func TestHistoryAndMirror(t *testing.T) {
	h := newHarness(t, nil, &fakeExtractor{text: "mirrored text"}, 1)
	history := &fakeHistory{}
	mirror := &fakeObjectStorage{}
	h.svc.WithHistory(history).WithMirror(&MirrorConfig{Storage: mirror, Prefix: "/papers/"})

	h.svc.RequestConversion(context.Background(), "hep-th/9901001", false)
	h.sup.Wait()

	if len(history.jobs) != 1 || history.jobs[0].Status != domain.PhaseSucceeded {
		t.Fatalf("history = %+v", history.jobs)
	}
	if got := mirror.objects["papers/hep-th_s9901001.md"]; got != "mirrored text" {
		t.Errorf("mirrored object = %q", got)
	}
}

func TestPanicIsRecordedAfterRequestEnds(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &fakeFetcher{gate: gate, panic: true}, nil, 1)
	history := &fakeHistory{}
	h.svc.WithHistory(history)

	ctx, cancel := context.WithCancel(context.Background())
	h.svc.RequestConversion(ctx, "2301.00011", false)
	cancel()
	close(gate)
	h.sup.Wait()

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.jobs) != 1 || history.jobs[0].Status != domain.PhaseFailed {
		t.Fatalf("history = %+v, want one failed job", history.jobs)
	}
	if !strings.Contains(history.jobs[0].ErrorLog, "crashed") {
		t.Errorf("error log = %q", history.jobs[0].ErrorLog)
	}
}

func TestMirrorFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	h.svc.WithMirror(&MirrorConfig{Storage: &fakeObjectStorage{err: errors.New("bucket gone")}})

	h.svc.RequestConversion(context.Background(), "2301.00008", false)
	h.sup.Wait()

	resp := h.svc.RequestConversion(context.Background(), "2301.00008", true)
	if resp.Status != string(domain.PhaseSucceeded) {
		t.Errorf("status = %q, want success", resp.Status)
	}
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	if err := h.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	resp := h.svc.RequestConversion(context.Background(), "2301.00009", false)
	if resp.Status != string(domain.PhaseFailed) {
		t.Errorf("status = %q, want error", resp.Status)
	}
	if h.f.calls.Load() != 0 {
		t.Error("fetch should not run after shutdown")
	}
}

func TestMirrorKey(t *testing.T) {
	tests := []struct {
		prefix, id, want string
	}{
		{"", "2301.00001", "2301.00001.md"},
		{"papers", "2301.00001", "papers/2301.00001.md"},
		{"/a/b/", "math/0601001", "a/b/math_s0601001.md"},
		{"papers", "math_0601001", "papers/math__0601001.md"},
	}
	for _, tt := range tests {
		if got := MirrorKey(tt.prefix, tt.id); got != tt.want {
			t.Errorf("MirrorKey(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}
