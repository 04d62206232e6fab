package repository

import (
	"context"
	"database/sql"
	"fmt"

	"service-agent/internal/domain"
)

// Compile-time check.
var _ domain.OperationLogRepository = (*OperationLogRepo)(nil)

const operationLogColumns = `id, created_at, actor, actor_email, operation, target_service, outcome, detail`

// filter columns use "? IS NULL OR col = ?" so a nil filter matches every row.
const operationLogWhere = ` WHERE (? IS NULL OR target_service = ?)
	AND (? IS NULL OR actor = ?)
	AND (? IS NULL OR operation = ?)
	AND (? IS NULL OR outcome = ?)`

// OperationLogRepo implements domain.OperationLogRepository. The table is
// append-only; triggers reject UPDATE and DELETE.
type OperationLogRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewOperationLogRepo inserts through writeDB and lists through readDB.
func NewOperationLogRepo(writeDB, readDB *sql.DB) *OperationLogRepo {
	return &OperationLogRepo{db: writeDB, readDB: readDB}
}

func (r *OperationLogRepo) Insert(ctx context.Context, rec *domain.OperationLogRecord) error {
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operation_logs (`+operationLogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.Actor, nullString(rec.ActorEmail), string(rec.Operation),
		nullString(rec.TargetService), string(rec.Outcome), nullString(rec.Detail))
	if err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	return nil
}

func (r *OperationLogRepo) List(ctx context.Context, filter domain.OperationLogFilter) ([]domain.OperationLogRecord, int64, error) {
	args := []interface{}{
		filterArg(filter.Service), filterArg(filter.Service),
		filterArg(filter.Actor), filterArg(filter.Actor),
		filterArg(filter.Operation), filterArg(filter.Operation),
		filterArg(filter.Outcome), filterArg(filter.Outcome),
	}

	var total int64
	if err := r.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operation_logs`+operationLogWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operation logs: %w", err)
	}

	limit := filter.Page.Limit()
	offset := filter.Page.Offset()
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+operationLogColumns+` FROM operation_logs`+operationLogWhere+`
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list operation logs: %w", err)
	}
	defer rows.Close()

	var out []domain.OperationLogRecord
	for rows.Next() {
		var (
			rec                   domain.OperationLogRecord
			email, target, detail sql.NullString
			operation, outcome    string
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Actor, &email, &operation,
			&target, &outcome, &detail); err != nil {
			return nil, 0, err
		}
		rec.ActorEmail = stringPtr(email)
		rec.TargetService = stringPtr(target)
		rec.Detail = stringPtr(detail)
		rec.Operation = domain.OperationKind(operation)
		rec.Outcome = domain.Outcome(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// filterArg returns nil for "no filter".
func filterArg(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
