// Package audit writes and reads the append-only operation log.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"service-agent/internal/domain"
	"service-agent/internal/service/security"
)

// Record describes one attempted mutating operation. Actor fields default to
// the principal in the context.
type Record struct {
	Actor         string
	ActorEmail    string
	Operation     domain.OperationKind
	TargetService string // empty for config-only operations
	Outcome       domain.Outcome
	Detail        string
}

// Recorder persists operation log records.
type Recorder struct {
	repo   domain.OperationLogRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(repo domain.OperationLogRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// Record writes rec synchronously. The operation it describes has already
// happened: a write failure is logged and returned for the caller to surface,
// never used to undo anything.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if rec.Actor == "" {
		rec.Actor, rec.ActorEmail = domain.ActorFromContext(ctx)
	}
	if rec.Actor == "" {
		rec.Actor = "anonymous"
	}

	entry := &domain.OperationLogRecord{
		ID:         domain.NewID(),
		CreatedAt:  r.now().UTC(),
		Actor:      rec.Actor,
		ActorEmail: optional(rec.ActorEmail),
		Operation:  rec.Operation,
		Outcome:    rec.Outcome,
	}
	if rec.TargetService != "" {
		entry.TargetService = &rec.TargetService
	}
	if rec.Detail != "" {
		d := domain.TruncateTail(rec.Detail, domain.MaxDetailBytes)
		entry.Detail = &d
	}

	// The request may already be cancelled (client gone); the record must
	// still be written.
	if err := r.repo.Insert(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("failed to write operation log",
			"operation", rec.Operation,
			"service", rec.TargetService,
			"outcome", rec.Outcome,
			"error", err)
		return fmt.Errorf("write operation log: %w", err)
	}
	return nil
}

// List returns operation log records, newest first. Admin only.
func (r *Recorder) List(ctx context.Context, filter domain.OperationLogFilter) ([]domain.OperationLogRecord, int64, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, 0, err
	}
	return r.repo.List(ctx, filter)
}

// Error renders a Record failure for result payloads; "" when err is nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
