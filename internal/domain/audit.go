package domain

import (
	"time"
	"unicode/utf8"
)

// Outcome of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// OperationKind names an audited mutating operation.
type OperationKind string

const (
	OpServiceStart   OperationKind = "service.start"
	OpServiceStop    OperationKind = "service.stop"
	OpServiceRestart OperationKind = "service.restart"
	OpServiceUpdate  OperationKind = "service.update"
	OpConfigUpsert   OperationKind = "config.upsert"
	OpConfigUpdate   OperationKind = "config.update"
	OpConfigDelete   OperationKind = "config.delete"
)

// OperationLogRecord is a single immutable audit record. One is written per
// attempted mutating operation, successful or not.
type OperationLogRecord struct {
	ID            string
	CreatedAt     time.Time
	Actor         string
	ActorEmail    *string
	Operation     OperationKind
	TargetService *string // nil for config-only operations
	Outcome       Outcome
	Detail        *string
}

// OperationLogFilter holds filter parameters for querying the operation log.
type OperationLogFilter struct {
	Service   *string
	Actor     *string
	Operation *string
	Outcome   *string
	Page      PageRequest
}

// MaxDetailBytes bounds audit details and executor diagnostics.
const MaxDetailBytes = 1000

// TruncateTail keeps the last max bytes of s, the part of command output that
// usually holds the error. The cut never splits a UTF-8 sequence.
func TruncateTail(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	i := len(s) - max
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
