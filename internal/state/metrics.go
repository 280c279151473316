package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// TaskMetrics is the persisted usage summary of a finished task.
type TaskMetrics struct {
	ID            int64          `json:"id"`
	TaskID        string         `json:"task_id"`
	Duration      float64        `json:"duration"`
	TotalMessages int            `json:"total_messages"`
	TokenUsage    map[string]int `json:"token_usage"`
	ModelInfo     map[string]any `json:"model_info"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	TotalTokens   int            `json:"total_tokens"`
	EstimatedCost float64        `json:"estimated_cost"`
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func insertMetrics(exec func(string, ...any) (sql.Result, error), m *TaskMetrics) error {
	usage, err := encodeJSON(m.TokenUsage)
	if err != nil {
		return fmt.Errorf("encode token usage: %w", err)
	}
	info, err := encodeJSON(m.ModelInfo)
	if err != nil {
		return fmt.Errorf("encode model info: %w", err)
	}

	res, err := exec(`
		INSERT INTO task_metrics (task_id, duration, total_messages, token_usage, model_info,
			input_tokens, output_tokens, total_tokens, estimated_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			duration = excluded.duration,
			total_messages = excluded.total_messages,
			token_usage = excluded.token_usage,
			model_info = excluded.model_info,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			estimated_cost = excluded.estimated_cost
	`, m.TaskID, m.Duration, m.TotalMessages, usage, info,
		m.InputTokens, m.OutputTokens, m.TotalTokens, m.EstimatedCost)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// SaveMetrics stores the metrics of a task, replacing earlier ones.
func (db *DB) SaveMetrics(m *TaskMetrics) error {
	if err := insertMetrics(db.Exec, m); err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

// GetMetrics returns the metrics of a task, or ErrNotFound.
func (db *DB) GetMetrics(taskID string) (*TaskMetrics, error) {
	row := db.QueryRow(`
		SELECT id, task_id, duration, total_messages, token_usage, model_info,
			input_tokens, output_tokens, total_tokens, estimated_cost
		FROM task_metrics WHERE task_id = ?
	`, taskID)

	var (
		m           TaskMetrics
		usage, info sql.NullString
	)
	err := row.Scan(&m.ID, &m.TaskID, &m.Duration, &m.TotalMessages, &usage, &info,
		&m.InputTokens, &m.OutputTokens, &m.TotalTokens, &m.EstimatedCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}

	if usage.Valid {
		if err := json.Unmarshal([]byte(usage.String), &m.TokenUsage); err != nil {
			return nil, fmt.Errorf("decode token usage: %w", err)
		}
	}
	if info.Valid {
		if err := json.Unmarshal([]byte(info.String), &m.ModelInfo); err != nil {
			return nil, fmt.Errorf("decode model info: %w", err)
		}
	}
	return &m, nil
}

// SaveResult stores a finished task's transcript and metrics in one
// transaction.
func (db *DB) SaveResult(records []MessageRecord, m *TaskMetrics) error {
	err := db.Transaction(func(tx *sql.Tx) error {
		for i := range records {
			if err := insertMessage(tx.Exec, &records[i]); err != nil {
				return err
			}
		}
		if m != nil {
			return insertMetrics(tx.Exec, m)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}
