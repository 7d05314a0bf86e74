package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/weave/pkg/models"
)

// LogRepository stores execution log entries, ordered by insertion sequence.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new execution log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

func (r *LogRepository) Append(ctx context.Context, entry *models.WorkflowExecutionLog) error {
	document, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO workflow_execution_logs (id, execution_id, document) VALUES ($1, $2, $3)`,
		entry.ID, entry.ExecutionID, document,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) GetByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document FROM workflow_execution_logs WHERE execution_id = $1 ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.WorkflowExecutionLog, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		var entry models.WorkflowExecutionLog

		err = json.Unmarshal(document, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (r *LogRepository) DeleteByExecution(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflow_execution_logs WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("failed to delete execution logs: %w", err)
	}

	return nil
}
