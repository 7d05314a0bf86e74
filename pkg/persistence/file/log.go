package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/persistence"
)

// LogRepository stores each execution's log stream as a JSON-lines file.
type LogRepository struct {
	p   *Persistence
	dir string
}

func (lr *LogRepository) path(executionID string) string {
	return filepath.Join(lr.dir, executionID+".jsonl")
}

// Append adds one entry to the end of the execution's log file.
func (lr *LogRepository) Append(_ context.Context, entry *models.WorkflowExecutionLog) error {
	lr.p.mu.Lock()
	defer lr.p.mu.Unlock()

	if err := validateID(entry.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	err := os.MkdirAll(lr.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry %s: %w", entry.ID, err)
	}

	f, err := os.OpenFile(lr.path(entry.ExecutionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file for %s: %w", entry.ExecutionID, err)
	}

	_, err = f.Write(append(line, '\n'))
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("failed to append log entry %s: %w", entry.ID, err)
	}

	return f.Close()
}

// GetByExecution reads the execution's log entries in append order.
func (lr *LogRepository) GetByExecution(_ context.Context, executionID string) ([]*models.WorkflowExecutionLog, error) {
	lr.p.mu.RLock()
	defer lr.p.mu.RUnlock()

	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("GetLogs", executionID, err)
	}

	f, err := os.Open(lr.path(executionID)) // #nosec G304 -- executionID is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.WorkflowExecutionLog{}, nil
		}

		return nil, fmt.Errorf("failed to open log file for %s: %w", executionID, err)
	}

	defer func() { _ = f.Close() }()

	entries := make([]*models.WorkflowExecutionLog, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var entry models.WorkflowExecutionLog

		err := json.Unmarshal(scanner.Bytes(), &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry for %s: %w", executionID, err)
		}

		entries = append(entries, &entry)
	}

	return entries, scanner.Err()
}

// DeleteByExecution removes the execution's log file.
func (lr *LogRepository) DeleteByExecution(_ context.Context, executionID string) error {
	lr.p.mu.Lock()
	defer lr.p.mu.Unlock()

	if err := validateID(executionID); err != nil {
		return persistence.NewExecutionError("DeleteLogs", executionID, err)
	}

	err := os.Remove(lr.path(executionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete log file for %s: %w", executionID, err)
	}

	return nil
}
