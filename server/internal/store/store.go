package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// ErrStaleBuild is returned by Record when the build number is not newer
// than the job's latest build. History only grows at the newest end.
var ErrStaleBuild = errors.New("build is not newer than latest recorded build")

// Entry is a job's history head together with bookkeeping.
type Entry struct {
	Job       string
	Head      *types.HistoryNode
	Builds    int
	UpdatedAt time.Time
}

// Listener is called after every successful Record, outside the store lock.
// Notifications are delivered in record order, one at a time, so a listener
// must not call Record itself.
type Listener func(job string, head *types.HistoryNode)

// Store is a thread-safe in-memory history store, keyed by job name.
// A background goroutine (Run) evicts idle jobs and flushes history to disk.
type Store struct {
	mu        sync.RWMutex
	data      map[string]*Entry
	listeners []Listener
	retention time.Duration
	gen       uint64 // bumped on every mutation
	savedGen  uint64 // gen at the last successful Save
	now       func() time.Time // injectable for deterministic tests

	seq      uint64 // records accepted, guarded by mu
	notified uint64 // records whose listeners have finished, guarded by notifyMu
	notifyMu sync.Mutex
	turn     *sync.Cond
}

// New creates a Store that drops jobs idle for longer than retention.
// A zero retention keeps jobs forever.
func New(retention time.Duration) *Store {
	s := &Store{
		data:      make(map[string]*Entry),
		retention: retention,
		now:       time.Now,
	}
	s.turn = sync.NewCond(&s.notifyMu)
	return s
}

// Subscribe registers l to be told about every recorded build.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Record prepends a build to job's history and returns the new head.
// A zero build timestamp is set to the current time.
func (s *Store) Record(job string, b types.Build, snap types.Snapshot) (*types.HistoryNode, error) {
	if job == "" {
		return nil, fmt.Errorf("store: job name is required")
	}
	if b.Number <= 0 {
		return nil, fmt.Errorf("store: build number must be positive, got %d", b.Number)
	}

	s.mu.Lock()
	now := s.now()
	if b.Timestamp.IsZero() {
		b.Timestamp = now.UTC()
	}

	var prev *types.HistoryNode
	builds := 0
	if e, ok := s.data[job]; ok {
		prev, builds = e.Head, e.Builds
		if prev != nil && b.Number <= prev.Build.Number {
			s.mu.Unlock()
			return nil, fmt.Errorf("store: job %q build %d (latest %d): %w",
				job, b.Number, prev.Build.Number, ErrStaleBuild)
		}
	}

	head := prev.Prepend(b, snap)
	s.data[job] = &Entry{Job: job, Head: head, Builds: builds + 1, UpdatedAt: now}
	s.gen++
	s.seq++
	seq := s.seq
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.notify(seq, listeners, job, head)
	return head, nil
}

// notify runs listeners for the seq-th record once every earlier record has
// been delivered.
func (s *Store) notify(seq uint64, listeners []Listener, job string, head *types.HistoryNode) {
	s.notifyMu.Lock()
	for s.notified != seq-1 {
		s.turn.Wait()
	}
	s.notifyMu.Unlock()

	for _, l := range listeners {
		l(job, head)
	}

	s.notifyMu.Lock()
	s.notified = seq
	s.turn.Broadcast()
	s.notifyMu.Unlock()
}

// Get returns the entry for job and whether it exists.
func (s *Store) Get(job string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[job]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Head returns job's newest history node, or nil when the job is unknown.
func (s *Store) Head(job string) *types.HistoryNode {
	e, ok := s.Get(job)
	if !ok {
		return nil
	}
	return e.Head
}

// Jobs returns all entries sorted by job name.
func (s *Store) Jobs() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, *e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Count returns the number of jobs held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes jobs whose last build is older than now minus retention.
// It returns the number of jobs removed. With zero retention it is a no-op.
func (s *Store) Evict(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	removed := 0
	for job, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, job)
			removed++
		}
	}
	if removed > 0 {
		s.gen++
	}
	return removed
}

// Dirty reports whether the store changed since the last Save.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.savedGen
}

// Run evicts idle jobs and, when path is set, flushes changed history to
// path every interval (minimum 1 second). Run blocks until ctx is cancelled
// and performs a final flush on the way out.
func (s *Store) Run(ctx context.Context, path string, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	flush := func() {
		if path == "" || !s.Dirty() {
			return
		}
		if err := s.Save(path); err != nil {
			slog.Error("store: flush failed", "path", path, "err", err)
			return
		}
		slog.Debug("store: history flushed", "path", path, "jobs", s.Count())
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Info("store: evicted idle jobs", "count", n)
			}
			flush()
		}
	}
}
