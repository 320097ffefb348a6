package ui

import (
	"context"
	"sync"
	"time"

	"debuglog/filter"
)

// SearchFilter debounces edits to the text filter and exclude inputs so a
// refilter of a large history runs once per pause in typing, not per key.
type SearchFilter struct {
	mu       sync.RWMutex
	query    string
	exclude  string
	active   filter.DisplayMatcher
	timer    *time.Timer
	delay    time.Duration
	ctx      context.Context
	onChange func(filter.DisplayMatcher)
}

const searchDebounce = 250 * time.Millisecond

// NewSearchFilter starts with the given exclude text already active.
func NewSearchFilter(ctx context.Context, exclude string, onChange func(filter.DisplayMatcher)) *SearchFilter {
	s := &SearchFilter{
		exclude:  exclude,
		delay:    searchDebounce,
		ctx:      ctx,
		onChange: onChange,
	}
	s.active = s.build()
	return s
}

// SetQuery records new text filter input and re-arms the debounce timer.
func (s *SearchFilter) SetQuery(query string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.query = query
	s.mu.Unlock()
	s.arm()
}

// SetExclude records new exclude input and re-arms the debounce timer.
func (s *SearchFilter) SetExclude(exclude string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.exclude = exclude
	s.mu.Unlock()
	s.arm()
}

// Apply makes query and exclude active immediately, as the Refilter button
// does, and returns the resulting matcher.
func (s *SearchFilter) Apply(query, exclude string) filter.DisplayMatcher {
	if s == nil {
		return filter.DisplayMatcher{}
	}
	s.mu.Lock()
	s.query = query
	s.exclude = exclude
	if s.timer != nil {
		s.timer.Stop()
	}
	s.active = s.build()
	active := s.active
	s.mu.Unlock()
	return active
}

// Matcher returns the active matcher.
func (s *SearchFilter) Matcher() filter.DisplayMatcher {
	if s == nil {
		return filter.DisplayMatcher{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *SearchFilter) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

func (s *SearchFilter) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil && s.ctx.Err() != nil {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
	} else {
		s.timer.Reset(s.delay)
	}
}

func (s *SearchFilter) fire() {
	if s.ctx != nil && s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.active = s.build()
	active := s.active
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(active)
	}
}

// build must run with mu held.
func (s *SearchFilter) build() filter.DisplayMatcher {
	return filter.NewDisplayMatcher(s.query, filter.ParseExclusionList(s.exclude))
}
