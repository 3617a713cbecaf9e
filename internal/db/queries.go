package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.TilthError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// ErrNotOpen is the cause reported when the store could not be opened at
// startup and the app runs without it.
var ErrNotOpen = stderrors.New("local store not opened")

func errNotOpen() error {
	return errors.NewStoreUnavailable(ErrNotOpen)
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// Action queue partition (keyed by timestamp)
// =============================================================================

// QueueRow is one persisted action. Payload is the action's JSON encoding.
type QueueRow struct {
	Timestamp  int64
	Service    string
	Method     string
	Payload    []byte
	Attachment *model.Attachment
}

// InsertAction stores a new action row.
// Returns ErrUniqueConstraint if the timestamp is already taken.
func InsertAction(ctx context.Context, db *sql.DB, row *QueueRow) error {
	if db == nil {
		return errNotOpen()
	}
	var (
		blob []byte
		name sql.NullString
		mime sql.NullString
	)
	if row.Attachment != nil {
		blob = row.Attachment.Data
		if blob == nil {
			blob = []byte{}
		}
		name = sql.NullString{String: row.Attachment.Filename, Valid: true}
		mime = sql.NullString{String: row.Attachment.MIMEType, Valid: true}
	}

	query := `
		INSERT INTO action_queue (
			timestamp, service, method, payload_json,
			attachment, attachment_name, attachment_mime
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		row.Timestamp, row.Service, row.Method, string(row.Payload),
		blob, name, mime,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewStoreUnavailable(err)
	}
	return nil
}

// LastActionTimestamp returns the highest queued timestamp, or 0 if the queue is empty.
func LastActionTimestamp(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, errNotOpen()
	}
	var ts int64
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(timestamp), 0) FROM action_queue").Scan(&ts)
	if err != nil {
		return 0, errors.NewStoreUnavailable(err)
	}
	return ts, nil
}

// GetAction retrieves a single action by timestamp.
func GetAction(ctx context.Context, db *sql.DB, timestamp int64) (*QueueRow, error) {
	if db == nil {
		return nil, errNotOpen()
	}
	query := `
		SELECT timestamp, service, method, payload_json,
			attachment, attachment_name, attachment_mime
		FROM action_queue
		WHERE timestamp = ?
	`
	row, err := scanAction(db.QueryRowContext(ctx, query, timestamp))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("action", fmt.Sprint(timestamp))
	}
	if err != nil {
		return nil, errors.NewStoreUnavailable(err)
	}
	return row, nil
}

// ListActions returns every queued action ordered by timestamp ascending.
func ListActions(ctx context.Context, db *sql.DB) ([]QueueRow, error) {
	if db == nil {
		return nil, errNotOpen()
	}
	query := `
		SELECT timestamp, service, method, payload_json,
			attachment, attachment_name, attachment_mime
		FROM action_queue
		ORDER BY timestamp ASC
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewStoreUnavailable(err)
	}
	defer rows.Close()

	result := make([]QueueRow, 0)
	for rows.Next() {
		row, err := scanAction(rows)
		if err != nil {
			return nil, errors.NewStoreUnavailable(err)
		}
		result = append(result, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreUnavailable(err)
	}
	return result, nil
}

// CountActions returns the number of queued actions.
func CountActions(ctx context.Context, db *sql.DB) (int, error) {
	if db == nil {
		return 0, errNotOpen()
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_queue").Scan(&n); err != nil {
		return 0, errors.NewStoreUnavailable(err)
	}
	return n, nil
}

// DeleteAction removes a single action. Deleting a missing timestamp is not an error.
func DeleteAction(ctx context.Context, db *sql.DB, timestamp int64) error {
	if db == nil {
		return errNotOpen()
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM action_queue WHERE timestamp = ?", timestamp); err != nil {
		return errors.NewStoreUnavailable(err)
	}
	return nil
}

// DeleteActionsThrough removes every action with timestamp <= maxTimestamp.
func DeleteActionsThrough(ctx context.Context, db *sql.DB, maxTimestamp int64) (int64, error) {
	if db == nil {
		return 0, errNotOpen()
	}
	result, err := db.ExecContext(ctx, "DELETE FROM action_queue WHERE timestamp <= ?", maxTimestamp)
	if err != nil {
		return 0, errors.NewStoreUnavailable(err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ClearActions removes every queued action.
func ClearActions(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, errNotOpen()
	}
	result, err := db.ExecContext(ctx, "DELETE FROM action_queue")
	if err != nil {
		return 0, errors.NewStoreUnavailable(err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(s rowScanner) (*QueueRow, error) {
	var (
		row     QueueRow
		payload string
		blob    []byte
		name    sql.NullString
		mime    sql.NullString
	)
	if err := s.Scan(&row.Timestamp, &row.Service, &row.Method, &payload, &blob, &name, &mime); err != nil {
		return nil, err
	}
	row.Payload = []byte(payload)
	if name.Valid {
		row.Attachment = &model.Attachment{
			Data:     blob,
			Filename: name.String,
			MIMEType: mime.String,
		}
	}
	return &row, nil
}

// =============================================================================
// Cache partitions (content keyed by name, knowledge keyed by question)
// =============================================================================

// CacheRow is one cache entry. Value is JSON.
type CacheRow struct {
	Key       string
	Value     []byte
	UpdatedAt int64
}

// cacheTable describes a key/value cache partition. Names are constants,
// never user input, so they are safe to format into SQL.
type cacheTable struct {
	partition string
	table     string
	keyCol    string
	valueCol  string
}

var (
	contentTable   = cacheTable{PartitionContent, "content_cache", "key", "value_json"}
	knowledgeTable = cacheTable{PartitionKnowledge, "knowledge_cache", "question", "answer_json"}
)

func (t cacheTable) put(ctx context.Context, db *sql.DB, key string, value []byte, updatedAt int64) error {
	if db == nil {
		return errNotOpen()
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, %[3]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(%[2]s) DO UPDATE SET %[3]s = excluded.%[3]s, updated_at = excluded.updated_at
	`, t.table, t.keyCol, t.valueCol)
	if _, err := db.ExecContext(ctx, query, key, string(value), updatedAt); err != nil {
		return errors.NewStoreUnavailable(err)
	}
	return nil
}

func (t cacheTable) get(ctx context.Context, db *sql.DB, key string) (*CacheRow, error) {
	if db == nil {
		return nil, errNotOpen()
	}
	query := fmt.Sprintf("SELECT %s, %s, updated_at FROM %s WHERE %s = ?", t.keyCol, t.valueCol, t.table, t.keyCol)
	var (
		row   CacheRow
		value string
	)
	err := db.QueryRowContext(ctx, query, key).Scan(&row.Key, &value, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotAvailableOffline(t.partition, key)
	}
	if err != nil {
		return nil, errors.NewStoreUnavailable(err)
	}
	row.Value = []byte(value)
	return &row, nil
}

func (t cacheTable) getAll(ctx context.Context, db *sql.DB) ([]CacheRow, error) {
	if db == nil {
		return nil, errNotOpen()
	}
	query := fmt.Sprintf("SELECT %s, %s, updated_at FROM %s ORDER BY %s", t.keyCol, t.valueCol, t.table, t.keyCol)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewStoreUnavailable(err)
	}
	defer rows.Close()

	result := make([]CacheRow, 0)
	for rows.Next() {
		var (
			row   CacheRow
			value string
		)
		if err := rows.Scan(&row.Key, &value, &row.UpdatedAt); err != nil {
			return nil, errors.NewStoreUnavailable(err)
		}
		row.Value = []byte(value)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreUnavailable(err)
	}
	return result, nil
}

func (t cacheTable) delete(ctx context.Context, db *sql.DB, key string) error {
	if db == nil {
		return errNotOpen()
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.table, t.keyCol)
	if _, err := db.ExecContext(ctx, query, key); err != nil {
		return errors.NewStoreUnavailable(err)
	}
	return nil
}

func (t cacheTable) clear(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, errNotOpen()
	}
	result, err := db.ExecContext(ctx, "DELETE FROM "+t.table)
	if err != nil {
		return 0, errors.NewStoreUnavailable(err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// PutContent inserts or replaces a content cache entry.
func PutContent(ctx context.Context, db *sql.DB, key string, value []byte, updatedAt int64) error {
	return contentTable.put(ctx, db, key, value, updatedAt)
}

// GetContent returns a content cache entry, or NOT_AVAILABLE_OFFLINE on a miss.
func GetContent(ctx context.Context, db *sql.DB, key string) (*CacheRow, error) {
	return contentTable.get(ctx, db, key)
}

// ListContent returns every content cache entry ordered by key.
func ListContent(ctx context.Context, db *sql.DB) ([]CacheRow, error) {
	return contentTable.getAll(ctx, db)
}

// DeleteContent removes a content cache entry.
func DeleteContent(ctx context.Context, db *sql.DB, key string) error {
	return contentTable.delete(ctx, db, key)
}

// ClearContent removes every content cache entry.
func ClearContent(ctx context.Context, db *sql.DB) (int64, error) {
	return contentTable.clear(ctx, db)
}

// PutKnowledge inserts or replaces a knowledge cache entry keyed by exact question text.
func PutKnowledge(ctx context.Context, db *sql.DB, question string, answer []byte, updatedAt int64) error {
	return knowledgeTable.put(ctx, db, question, answer, updatedAt)
}

// GetKnowledge returns a knowledge cache entry by exact question text,
// or NOT_AVAILABLE_OFFLINE on a miss. No normalization is applied.
func GetKnowledge(ctx context.Context, db *sql.DB, question string) (*CacheRow, error) {
	return knowledgeTable.get(ctx, db, question)
}

// ListKnowledge returns every knowledge cache entry ordered by question.
func ListKnowledge(ctx context.Context, db *sql.DB) ([]CacheRow, error) {
	return knowledgeTable.getAll(ctx, db)
}

// DeleteKnowledge removes a knowledge cache entry.
func DeleteKnowledge(ctx context.Context, db *sql.DB, question string) error {
	return knowledgeTable.delete(ctx, db, question)
}

// ClearKnowledge removes every knowledge cache entry.
func ClearKnowledge(ctx context.Context, db *sql.DB) (int64, error) {
	return knowledgeTable.clear(ctx, db)
}
