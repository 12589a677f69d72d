package engine

import (
	"context"
	"sync"

	"eventscope/internal/filter"
	appLog "eventscope/internal/log"
)

// Session is the state one viewer sees. Only the most recently requested
// filter may change what is visible: a result that arrives for an older
// filter is dropped, and the fetch behind it is left to finish and fill the
// cache.
type Session struct {
	engine *Engine
	mode   Mode

	mu      sync.Mutex
	seq     uint64
	filter  filter.Filter
	visible View
	hasView bool
}

func (e *Engine) NewSession(mode Mode) *Session {
	if mode == "" {
		mode = ModeRemote
	}
	return &Session{engine: e, mode: mode}
}

// Browse switches the session to f and resolves it in the background. The
// channel yields the committed view, or is closed empty if another Browse
// call superseded this one or ctx ended first.
func (s *Session) Browse(ctx context.Context, f filter.Filter) <-chan View {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.filter = f
	s.mu.Unlock()

	out := make(chan View, 1)
	go func() {
		defer close(out)
		v, err := s.engine.Query(ctx, f, s.mode, true)
		if err != nil && !v.HasData {
			v.Err = err
		}

		s.mu.Lock()
		latest := seq == s.seq
		if latest {
			s.visible = v
			s.hasView = true
		}
		s.mu.Unlock()

		if !latest {
			s.engine.metrics.Superseded()
			appLog.Debug("superseded result dropped", "key", v.Key.String())
			return
		}
		out <- v
	}()
	return out
}

// Visible returns the last committed view.
func (s *Session) Visible() (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible, s.hasView
}

// Filter returns the most recently requested filter.
func (s *Session) Filter() filter.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}
