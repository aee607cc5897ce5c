package dispatch

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressSink is the explicit capability passed into the Dispatcher,
// replacing the source's ambient progress-bar wiring: every component that
// wants to report progress does so through this single interface rather
// than reaching for a global.
type ProgressSink interface {
	// StartEndpoint registers a bar tracking total pings/stats calls for
	// one endpoint.
	StartEndpoint(name string, total int)
	// TickEndpoint advances one endpoint's bar by one unit.
	TickEndpoint(name string)
	// FinishEndpoint marks one endpoint's bar complete.
	FinishEndpoint(name string)

	// StartSubmit registers the aggregate "jobs complete / total" bar for
	// one submit.
	StartSubmit(submitID string, total int)
	// TickSubmit advances the submit's aggregate bar by one completed job.
	TickSubmit(submitID string)

	// Tick satisfies tree.ProgressTicker for tree-build progress.
	Tick()

	// Close releases any drawing resources. Safe to call once, at the end
	// of a submit.
	Close()
}

// MultiBarSink is a ProgressSink backed by vbauerster/mpb, mirroring the
// indicatif::MultiProgress surface the original implementation drives for
// endpoint pings. Construct with NewMultiBarSink; pass hidden=true to
// disable drawing without changing call semantics.
type MultiBarSink struct {
	progress *mpb.Progress
	mu       sync.Mutex
	bars     map[string]*mpb.Bar
}

// NewMultiBarSink creates a sink writing to out, or a fully hidden sink
// when hidden is true.
func NewMultiBarSink(out io.Writer, hidden bool) *MultiBarSink {
	opts := []mpb.ContainerOption{mpb.WithOutput(out)}
	if hidden {
		opts = []mpb.ContainerOption{mpb.WithOutput(io.Discard)}
	}
	return &MultiBarSink{
		progress: mpb.New(opts...),
		bars:     make(map[string]*mpb.Bar),
	}
}

func (s *MultiBarSink) StartEndpoint(name string, total int) {
	bar := s.progress.AddBar(int64(total),
		mpb.PrependDecorators(decor.Name(name)),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	s.mu.Lock()
	s.bars["endpoint:"+name] = bar
	s.mu.Unlock()
}

func (s *MultiBarSink) TickEndpoint(name string) {
	s.mu.Lock()
	bar := s.bars["endpoint:"+name]
	s.mu.Unlock()
	if bar != nil {
		bar.Increment()
	}
}

func (s *MultiBarSink) FinishEndpoint(name string) {
	s.mu.Lock()
	bar := s.bars["endpoint:"+name]
	s.mu.Unlock()
	if bar != nil {
		bar.SetCurrent(bar.Current())
		bar.Abort(false)
	}
}

func (s *MultiBarSink) StartSubmit(submitID string, total int) {
	bar := s.progress.AddBar(int64(total),
		mpb.PrependDecorators(decor.Name("submit "+submitID)),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	s.mu.Lock()
	s.bars["submit:"+submitID] = bar
	s.mu.Unlock()
}

func (s *MultiBarSink) TickSubmit(submitID string) {
	s.mu.Lock()
	bar := s.bars["submit:"+submitID]
	s.mu.Unlock()
	if bar != nil {
		bar.Increment()
	}
}

func (s *MultiBarSink) Tick() {}

func (s *MultiBarSink) Close() {
	s.progress.Wait()
}

// NoopSink discards every progress event; tree-building and standalone
// queries use it when no interactive display is wanted.
type NoopSink struct{}

func (NoopSink) StartEndpoint(string, int)  {}
func (NoopSink) TickEndpoint(string)        {}
func (NoopSink) FinishEndpoint(string)      {}
func (NoopSink) StartSubmit(string, int)    {}
func (NoopSink) TickSubmit(string)          {}
func (NoopSink) Tick()                      {}
func (NoopSink) Close()                     {}
