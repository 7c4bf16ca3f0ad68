package routing

import (
	"context"
	"sync"
)

// LocalSequencer serializes decisions per rule inside one process.
type LocalSequencer struct {
	mu    sync.Mutex
	slots map[RuleID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{slots: make(map[RuleID]*slot)}
}

func (s *LocalSequencer) Acquire(ctx context.Context, rule RuleID) (func(), error) {
	s.mu.Lock()
	sl, ok := s.slots[rule]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		s.slots[rule] = sl
	}
	sl.refs++
	s.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		s.unref(rule, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			s.unref(rule, sl)
		})
	}, nil
}

func (s *LocalSequencer) unref(rule RuleID, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, rule)
	}
}
