// Package runlog records one migration run and persists it as a JSON artifact.
package runlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Final outcomes of a run.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled-back"
)

// Item statuses recorded per tenant, table or user.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusWarning = "warning"
)

// Item kinds.
const (
	KindTenant    = "tenant"
	KindNamespace = "namespace"
	KindTable     = "table"
	KindUser      = "user"
	KindSequence  = "sequence"
	KindAdmin     = "platform_admin"
)

// Warning is a recoverable problem: what was being done and what went wrong.
type Warning struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Outcome is the typed result of one loop iteration.
type Outcome struct {
	Kind   string `json:"kind"`
	Tenant string `json:"tenant,omitempty"`
	Target string `json:"target,omitempty"`
	Status string `json:"status"`
	Rows   int64  `json:"rows,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Run is appended to throughout a migration and sealed once persisted.
// It is safe for concurrent use; appends after Seal are dropped.
type Run struct {
	mu sync.Mutex

	id        uuid.UUID
	startedAt time.Time
	logger    *zap.Logger

	phase      string
	outcome    string
	finishedAt time.Time
	sealed     bool

	messages []string
	warnings []Warning
	outcomes []Outcome
}

func NewRun(logger *zap.Logger, startedAt time.Time) *Run {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	return &Run{
		id:        id,
		startedAt: startedAt.UTC(),
		logger:    logger.With(zap.String("run_id", id.String())),
	}
}

func (r *Run) ID() uuid.UUID        { return r.id }
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Logger carries the run id.
func (r *Run) Logger() *zap.Logger { return r.logger }

// Phase records the current controller phase.
func (r *Run) Phase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.phase = phase
	r.messages = append(r.messages, "phase: "+phase)
	r.logger.Info("migration phase", zap.String("phase", phase))
}

// Logf appends a human readable step message.
func (r *Run) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.messages = append(r.messages, msg)
	r.logger.Info(msg)
}

// Warn records a recoverable problem; err may be nil.
func (r *Run) Warn(message string, err error, fields ...zap.Field) {
	w := Warning{Message: message}
	if err != nil {
		w.Error = err.Error()
		fields = append(fields, zap.Error(err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.warnings = append(r.warnings, w)
	r.messages = append(r.messages, "warning: "+message)
	r.logger.Warn(message, fields...)
}

// Record appends a typed per-item outcome.
func (r *Run) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.outcomes = append(r.outcomes, o)
}

// Seal fixes the final outcome. Later appends are ignored.
func (r *Run) Seal(outcome string, finishedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.outcome = outcome
	r.finishedAt = finishedAt.UTC()
	r.sealed = true
}

// Snapshot is an immutable copy of the run.
type Snapshot struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Phase      string    `json:"phase"`
	Outcome    string    `json:"outcome,omitempty"`
	Messages   []string  `json:"messages"`
	Warnings   []Warning `json:"warnings"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RunID:      r.id.String(),
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Phase:      r.phase,
		Outcome:    r.outcome,
		Messages:   append([]string{}, r.messages...),
		Warnings:   append([]Warning{}, r.warnings...),
		Outcomes:   append([]Outcome{}, r.outcomes...),
	}
}

// Count returns how many outcomes of kind have status.
func (s Snapshot) Count(kind, status string) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Kind == kind && o.Status == status {
			n++
		}
	}
	return n
}
