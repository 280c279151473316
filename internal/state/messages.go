package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

// MessageRecord is a persisted transcript message.
type MessageRecord struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	Agent      string    `json:"agent"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Order      int       `json:"order"`
	TokenCount int       `json:"token_count"`
}

// NewMessageRecord builds the record of m within taskID.
func NewMessageRecord(taskID string, m models.Message, tokenCount int) MessageRecord {
	return MessageRecord{
		TaskID:     taskID,
		Agent:      m.Source,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		Order:      m.Order,
		TokenCount: tokenCount,
	}
}

func insertMessage(exec func(string, ...any) (sql.Result, error), r *MessageRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	res, err := exec(`
		INSERT INTO agent_messages (task_id, agent, content, timestamp, "order", token_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.TaskID, r.Agent, r.Content, formatTime(r.Timestamp), r.Order, r.TokenCount)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// SaveMessage appends one message to a task's transcript.
func (db *DB) SaveMessage(r *MessageRecord) error {
	if err := insertMessage(db.Exec, r); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// SaveMessages appends messages to a task's transcript in one transaction.
func (db *DB) SaveMessages(records []MessageRecord) error {
	err := db.Transaction(func(tx *sql.Tx) error {
		for i := range records {
			if err := insertMessage(tx.Exec, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// ListMessages returns a task's transcript in order.
func (db *DB) ListMessages(taskID string) ([]MessageRecord, error) {
	rows, err := db.Query(`
		SELECT id, task_id, agent, content, timestamp, "order", token_count
		FROM agent_messages WHERE task_id = ? ORDER BY "order", id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	records := []MessageRecord{}
	for rows.Next() {
		var r MessageRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Agent, &r.Content, &ts, &r.Order, &r.TokenCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.Timestamp, _ = parseTime(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteMessages removes a task's transcript.
func (db *DB) DeleteMessages(taskID string) error {
	if _, err := db.Exec(`DELETE FROM agent_messages WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
