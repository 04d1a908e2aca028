package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/event"
	"github.com/tracestate/tracestate/state/provider"
	buildtrace "github.com/tracestate/tracestate/state/trace"
)

var tracer = otel.Tracer("tracestate.analysis")

// Config selects the analyses of a build and where their histories go.
type Config struct {
	Analyses   []string         // nil runs every built-in analysis
	Layout     *provider.Layout // nil means provider.DefaultLayout
	HistoryDir string           // one sub-directory per analysis; empty keeps histories in memory
	Trace      buildtrace.TraceConfig
}

// Result is the outcome of one analysis build.
type Result struct {
	ID          string
	StateSystem *state.StateSystem
	Stats       provider.Stats
	Trace       *buildtrace.BuildTrace
	HistoryPath string
	Duration    time.Duration
}

// Report is the outcome of a whole build.
type Report struct {
	BuildID  string
	Results  []*Result // sorted by analysis id
	Duration time.Duration
}

// Result returns the result of analysis id.
func (r *Report) Result(id string) (*Result, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res, true
		}
	}
	return nil, false
}

type builder struct {
	result   *Result
	provider *provider.Provider
}

// Session is a running build. Its state systems exist from Start on and can
// be queried while the builders fill them.
type Session struct {
	id         string
	src        event.Source
	historyDir string
	builders   map[string]*builder
	order      []string
	cancel     context.CancelFunc
	started    time.Time
	done       chan struct{}
	report     *Report
	err        error
}

// Start creates one state system per analysis and launches the builders.
// The history start time is the timestamp of the first event of src.
func Start(ctx context.Context, src event.Source, cfg Config) (*Session, error) {
	ids := cfg.Analyses
	if ids == nil {
		ids = Names()
	}
	if len(ids) == 0 {
		return nil, errors.New("no analysis selected")
	}
	layout := cfg.Layout
	if layout == nil {
		layout = provider.DefaultLayout()
	}
	start, err := firstTimestamp(ctx, src)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         uuid.NewString(),
		src:        src,
		historyDir: cfg.HistoryDir,
		builders:   make(map[string]*builder, len(ids)),
		started:    time.Now(),
		done:       make(chan struct{}),
	}
	for _, id := range ids {
		if _, dup := s.builders[id]; dup {
			s.abort()
			return nil, fmt.Errorf("analysis %q selected twice", id)
		}
		b, err := newBuilder(id, start, layout, cfg)
		if err != nil {
			s.abort()
			return nil, err
		}
		s.builders[id] = b
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return s, nil
}

func newBuilder(id string, start int64, layout *provider.Layout, cfg Config) (*builder, error) {
	kinds, err := Kinds(id)
	if err != nil {
		return nil, err
	}
	var backend state.Backend
	path := ""
	if cfg.HistoryDir != "" {
		path = filepath.Join(cfg.HistoryDir, id)
		if backend, err = state.NewPersistentBackend(state.BackendConfig{Path: path}); err != nil {
			return nil, fmt.Errorf("analysis %s: %w", id, err)
		}
	}
	ss := state.New(state.Config{StartTime: start, Backend: backend})
	p, err := provider.New(ss, layout, provider.Options{ID: id, Kinds: kinds, Trace: cfg.Trace})
	if err != nil {
		_ = ss.Dispose()
		return nil, err
	}
	return &builder{
		result:   &Result{ID: id, StateSystem: ss, Trace: p.Trace(), HistoryPath: path},
		provider: p,
	}, nil
}

func firstTimestamp(ctx context.Context, src event.Source) (int64, error) {
	it, err := src.Iterator()
	if err != nil {
		return 0, fmt.Errorf("opening event source: %w", err)
	}
	defer it.Close()
	ev, err := it.Next(ctx)
	switch {
	case errors.Is(err, io.EOF):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("reading first event: %w", err)
	}
	return ev.Timestamp, nil
}

// ID returns the build id.
func (s *Session) ID() string { return s.id }

// Analyses returns the analysis ids of the session, sorted.
func (s *Session) Analyses() []string { return append([]string(nil), s.order...) }

// StateSystem returns the store of analysis id.
func (s *Session) StateSystem(id string) (*state.StateSystem, bool) {
	b, ok := s.builders[id]
	if !ok {
		return nil, false
	}
	return b.result.StateSystem, true
}

// Cancel stops every builder; their stores are disposed.
func (s *Session) Cancel() { s.cancel() }

// Done is closed when every builder has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the build ends. On failure every store is disposed and
// the first error is returned.
func (s *Session) Wait() (*Report, error) {
	<-s.done
	return s.report, s.err
}

func (s *Session) abort() {
	for _, b := range s.builders {
		_ = b.result.StateSystem.Dispose()
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	ctx, span := tracer.Start(ctx, "analysis.Build",
		trace.WithAttributes(
			attribute.String("build.id", s.id),
			attribute.StringSlice("build.analyses", s.order),
		),
	)
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range s.order {
		b := s.builders[id]
		g.Go(func() error {
			return s.build(gctx, b)
		})
	}
	if err := g.Wait(); err != nil {
		s.abort()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logrus.Errorf("build %s failed: %v", s.id, err)
		s.err = err
		return
	}

	report := &Report{BuildID: s.id, Duration: time.Since(s.started)}
	for _, id := range s.order {
		report.Results = append(report.Results, s.builders[id].result)
	}
	if s.historyDir != "" {
		if err := WriteManifest(s.historyDir, report); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.err = err
			return
		}
	}
	s.report = report
	span.SetStatus(codes.Ok, "")
	logrus.Infof("build %s finished in %v", s.id, report.Duration)
}

// build feeds one analysis from its own pass over the source.
func (s *Session) build(ctx context.Context, b *builder) (err error) {
	id := b.result.ID
	ctx, span := tracer.Start(ctx, "analysis.Builder",
		trace.WithAttributes(
			attribute.String("build.id", s.id),
			attribute.String("analysis", id),
		),
	)
	defer span.End()
	began := time.Now()
	defer func() {
		b.result.Duration = time.Since(began)
		b.result.Stats = b.provider.Stats()
		buildDuration.WithLabelValues(id).Observe(b.result.Duration.Seconds())
		outcome := "ok"
		switch {
		case errors.Is(err, context.Canceled):
			outcome = "canceled"
		case err != nil:
			outcome = "failed"
		}
		buildsTotal.WithLabelValues(id, outcome).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("analysis.events", b.result.Stats.Events))
	}()

	it, err := s.src.Iterator()
	if err != nil {
		return fmt.Errorf("analysis %s: opening event source: %w", id, err)
	}
	defer it.Close()

	for {
		ev, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = b.result.StateSystem.Dispose()
			return fmt.Errorf("analysis %s: %w", id, err)
		}
		if err := b.provider.ProcessEvent(ev); err != nil {
			_ = b.result.StateSystem.Dispose()
			return fmt.Errorf("analysis %s: %w", id, err)
		}
	}
	if err := b.provider.Done(); err != nil {
		_ = b.result.StateSystem.Dispose()
		return fmt.Errorf("analysis %s: %w", id, err)
	}
	return nil
}

// Run builds every selected analysis and waits for the result.
func Run(ctx context.Context, src event.Source, cfg Config) (*Report, error) {
	s, err := Start(ctx, src, cfg)
	if err != nil {
		return nil, err
	}
	return s.Wait()
}
