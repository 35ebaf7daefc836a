// Package memory provides the in-process run store backing the HTTP API.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunStore keeps runs and their retained records in memory. Nothing survives
// a restart.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]crawler.Run
	records map[string][]crawler.PageRecord
	clock   crawler.Clock
}

var _ crawler.RunStore = (*RunStore)(nil)

// NewRunStore constructs a RunStore. A nil clock uses UTC wall time.
func NewRunStore(clock crawler.Clock) *RunStore {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &RunStore{
		runs:    make(map[string]crawler.Run),
		records: make(map[string][]crawler.PageRecord),
		clock:   clock,
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = crawler.RunStatusQueued
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun replaces the stored run, stamping start and finish times on
// status transitions.
func (s *RunStore) UpdateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	now := s.clock.Now()
	if run.Started == nil {
		run.Started = prev.Started
	}
	if run.Status == crawler.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if isTerminal(run.Status) && run.Finished == nil {
		run.Finished = pointerTime(now)
	}
	s.runs[run.ID] = run
	return nil
}

// SaveRecords replaces the retained records of a run.
func (s *RunStore) SaveRecords(_ context.Context, runID string, records []crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := make([]crawler.PageRecord, len(records))
	copy(out, records)
	s.records[runID] = out
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// ListRecords returns a copy of the records retained for a run.
func (s *RunStore) ListRecords(_ context.Context, runID string) ([]crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	records := s.records[runID]
	out := make([]crawler.PageRecord, len(records))
	copy(out, records)
	return out, nil
}


func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status crawler.RunStatus) bool {
	switch status {
	case crawler.RunStatusSucceeded, crawler.RunStatusFailed, crawler.RunStatusCanceled:
		return true
	default:
		return false
	}
}
