// Package report generates one-shot summary reports through a fresh agent
// session per run and keeps a record of every run.
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
	"github.com/Voyage-Pet-AI/vwork/pkg/session"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run records a single report execution.
type Run struct {
	ID              string    `json:"id"`
	Prompt          string    `json:"prompt"`
	Status          string    `json:"status"`
	Text            string    `json:"text,omitempty"`
	Error           string    `json:"error,omitempty"`
	Rounds          int       `json:"rounds"`
	RoundsExhausted bool      `json:"roundsExhausted"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt,omitempty"`
}

// SessionFactory builds a fresh session for each run so reports never
// share history with interactive chats or with each other.
type SessionFactory func() (*agent.Session, error)

// Service runs reports and remembers their outcomes.
type Service struct {
	factory SessionFactory
	store   *session.Store
	log     zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewService wires a report service. The transcript store is optional;
// when present every run's prompt and output are archived under a
// report-<id> session key.
func NewService(factory SessionFactory, store *session.Store, logger zerolog.Logger) (*Service, error) {
	if factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	return &Service{
		factory: factory,
		store:   store,
		log:     logger,
		runs:    make(map[string]*Run),
	}, nil
}

// Generate executes one report run to completion.
func (s *Service) Generate(ctx context.Context, prompt string) (*Run, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	run := &Run{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.log.Info().Str("run_id", run.ID).Msg("Report run started")

	sess, err := s.factory()
	if err != nil {
		s.finish(run, nil, fmt.Errorf("failed to build session: %w", err))
		return s.Get(run.ID)
	}

	result, err := sess.Send(ctx, prompt)
	s.finish(run, result, err)
	s.archive(run)
	return s.Get(run.ID)
}

func (s *Service) finish(run *Run, result *agent.SendResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		s.log.Error().Str("run_id", run.ID).Err(err).Msg("Report run failed")
		return
	}

	run.Status = StatusSucceeded
	run.Text = result.Text
	run.Rounds = result.Rounds
	run.RoundsExhausted = result.RoundsExhausted
	s.log.Info().
		Str("run_id", run.ID).
		Int("rounds", result.Rounds).
		Bool("rounds_exhausted", result.RoundsExhausted).
		Msg("Report run finished")
}

func (s *Service) archive(run *Run) {
	if s.store == nil {
		return
	}
	snapshot, err := s.Get(run.ID)
	if err != nil || snapshot.Status != StatusSucceeded {
		return
	}

	key := "report-" + run.ID
	if err := s.store.Append(key, session.Turn{Role: "user", Content: snapshot.Prompt}); err != nil {
		s.log.Warn().Str("run_id", run.ID).Err(err).Msg("Failed to archive report prompt")
		return
	}
	if err := s.store.Append(key, session.Turn{Role: "assistant", Content: snapshot.Text}); err != nil {
		s.log.Warn().Str("run_id", run.ID).Err(err).Msg("Failed to archive report output")
	}
}

// Get returns a copy of one run record.
func (s *Service) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("unknown run: %s", id)
	}
	copied := *run
	return &copied, nil
}

// List returns copies of all run records, newest first.
func (s *Service) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	for i := 0; i < len(runs); i++ {
		for j := i + 1; j < len(runs); j++ {
			if runs[j].StartedAt.After(runs[i].StartedAt) {
				runs[i], runs[j] = runs[j], runs[i]
			}
		}
	}
	return runs
}
