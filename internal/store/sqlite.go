package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chatfabric/internal/domain"
	"github.com/ashureev/chatfabric/internal/shared"
	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	idMu      sync.Mutex // guards lastID: next_id = max(now_ns, lastID+1)
	lastID    int64
	maxRetries time.Duration
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, maxRetryElapsed time.Duration) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if maxRetryElapsed <= 0 {
		maxRetryElapsed = 5 * time.Second
	}

	s := &SQLiteStore{db: db, maxRetries: maxRetryElapsed}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS session (
		token TEXT PRIMARY KEY,
		app_user_identifier TEXT NOT NULL,
		device_identifier TEXT NOT NULL,
		application_identifier TEXT NOT NULL,
		fcm_token TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_session_app_user ON session(app_user_identifier);

	CREATE TABLE IF NOT EXISTS chat_room (
		identifier TEXT PRIMARY KEY,
		room_type INTEGER NOT NULL,
		app_users_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_message (
		chat_room_identifier TEXT NOT NULL,
		message_timestamp_identifier INTEGER NOT NULL,
		app_user_identifier TEXT,
		message_json TEXT NOT NULL,
		PRIMARY KEY (chat_room_identifier, message_timestamp_identifier)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_message_room_ts
		ON chat_message(chat_room_identifier, message_timestamp_identifier DESC);

	CREATE TABLE IF NOT EXISTS last_message_read (
		identifier TEXT PRIMARY KEY,
		chat_room_identifier TEXT NOT NULL,
		app_user_identifier TEXT NOT NULL,
		message_timestamp_identifier INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_last_message_read_room
		ON last_message_read(chat_room_identifier);
	CREATE INDEX IF NOT EXISTS idx_last_message_read_room_ts
		ON last_message_read(chat_room_identifier, message_timestamp_identifier);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_last_message_read_room_user
		ON last_message_read(chat_room_identifier, app_user_identifier);

	CREATE TABLE IF NOT EXISTS custom_data (
		app_user_identifier TEXT PRIMARY KEY,
		custom_data_json TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = s.maxRetries
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// FetchSession resolves a bearer token to the session it authenticates.
func (s *SQLiteStore) FetchSession(ctx context.Context, token string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, app_user_identifier, device_identifier, application_identifier
		FROM session WHERE token = ?`, token)

	var sess domain.Session
	err := row.Scan(&sess.Token, &sess.AppUserID, &sess.DeviceID, &sess.ApplicationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return &sess, nil
}

// FetchChatRoom returns the chat room by id.
func (s *SQLiteStore) FetchChatRoom(ctx context.Context, chatRoomID string) (*domain.ChatRoom, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identifier, room_type, app_users_json FROM chat_room WHERE identifier = ?`, chatRoomID)

	var room domain.ChatRoom
	var roomType int
	var appUsersJSON string
	err := row.Scan(&room.ChatRoomID, &roomType, &appUsersJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat room row: %w", err)
	}
	room.Type = domain.ChatRoomType(roomType)
	if err := jsonUnmarshal(appUsersJSON, &room.AppUsers); err != nil {
		return nil, fmt.Errorf("decode chat room members: %w", err)
	}
	return &room, nil
}

// FetchChatRoomMessages returns up to limit messages older than fromID.
func (s *SQLiteStore) FetchChatRoomMessages(ctx context.Context, chatRoomID string, fromID int64, limit int) ([]*domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_room_identifier, message_timestamp_identifier, app_user_identifier, message_json
		FROM chat_message
		WHERE chat_room_identifier = ? AND message_timestamp_identifier < ?
		ORDER BY message_timestamp_identifier DESC
		LIMIT ?`, chatRoomID, fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat room messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FetchLatestChatRoomMessage returns the newest message in the room.
func (s *SQLiteStore) FetchLatestChatRoomMessage(ctx context.Context, chatRoomID string) (*domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_room_identifier, message_timestamp_identifier, app_user_identifier, message_json
		FROM chat_message
		WHERE chat_room_identifier = ?
		ORDER BY message_timestamp_identifier DESC
		LIMIT 1`, chatRoomID)
	if err != nil {
		return nil, fmt.Errorf("query latest chat room message: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages[0], nil
}

func scanMessages(rows *sql.Rows) ([]*domain.ChatMessage, error) {
	var out []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var appUserID sql.NullString
		var messageJSON string
		if err := rows.Scan(&m.ChatRoomID, &m.MessageTimestampID, &appUserID, &messageJSON); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		m.AppUserID = appUserID.String
		if err := jsonUnmarshal(messageJSON, &m.Message); err != nil {
			return nil, fmt.Errorf("decode chat message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// FetchReadMessageUsers returns the users who have read messageTimestampID.
func (s *SQLiteStore) FetchReadMessageUsers(ctx context.Context, chatRoomID string, messageTimestampID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_user_identifier FROM last_message_read
		WHERE chat_room_identifier = ? AND message_timestamp_identifier = ?`, chatRoomID, messageTimestampID)
	if err != nil {
		return nil, fmt.Errorf("query read message users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan read message user row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FetchLastMessagesRead returns every read-marker row for chatRoomID.
func (s *SQLiteStore) FetchLastMessagesRead(ctx context.Context, chatRoomID string) ([]*domain.LastMessageRead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_room_identifier, app_user_identifier, message_timestamp_identifier
		FROM last_message_read WHERE chat_room_identifier = ?`, chatRoomID)
	if err != nil {
		return nil, fmt.Errorf("query last messages read: %w", err)
	}
	defer rows.Close()

	var out []*domain.LastMessageRead
	for rows.Next() {
		var r domain.LastMessageRead
		if err := rows.Scan(&r.ChatRoomID, &r.AppUserID, &r.MessageTimestampID); err != nil {
			return nil, fmt.Errorf("scan last message read row: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// FetchLastMessageRead returns appUserID's read marker in chatRoomID.
func (s *SQLiteStore) FetchLastMessageRead(ctx context.Context, chatRoomID, appUserID string) (*domain.LastMessageRead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_room_identifier, app_user_identifier, message_timestamp_identifier
		FROM last_message_read WHERE chat_room_identifier = ? AND app_user_identifier = ?`, chatRoomID, appUserID)

	var r domain.LastMessageRead
	err := row.Scan(&r.ChatRoomID, &r.AppUserID, &r.MessageTimestampID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan last message read row: %w", err)
	}
	return &r, nil
}

// CountMessagesAfter counts messages newer than afterID, capped at limit.
func (s *SQLiteStore) CountMessagesAfter(ctx context.Context, chatRoomID string, afterID int64, limit int) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT message_timestamp_identifier FROM chat_message
			WHERE chat_room_identifier = ? AND message_timestamp_identifier > ?
			LIMIT ?
		)`, chatRoomID, afterID, limit)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages after: %w", err)
	}
	return count, nil
}

// CreateChatMessage persists a message, assigning it a monotonic
// nanosecond timestamp id: next_id = max(now_ns, last_issued_id+1). This
// guards invariant 7 (strictly increasing ids within a room) against
// clock regression.
func (s *SQLiteStore) CreateChatMessage(ctx context.Context, chatRoomID, appUserID string, message map[string]any) (int64, error) {
	id := s.nextMessageID()

	messageJSON, err := jsonMarshal(message)
	if err != nil {
		return 0, fmt.Errorf("encode chat message: %w", err)
	}

	err = s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_message (chat_room_identifier, message_timestamp_identifier, app_user_identifier, message_json)
			VALUES (?, ?, ?, ?)`, chatRoomID, id, appUserID, messageJSON)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) nextMessageID() int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	now := time.Now().UnixNano()
	next := now
	if s.lastID+1 > next {
		next = s.lastID + 1
	}
	s.lastID = next
	return next
}

// UpsertLastMessageRead deletes any prior read marker for
// (chatRoomID, appUserID) and inserts a fresh one.
func (s *SQLiteStore) UpsertLastMessageRead(ctx context.Context, chatRoomID, appUserID string, messageTimestampID int64) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM last_message_read WHERE chat_room_identifier = ? AND app_user_identifier = ?`,
			chatRoomID, appUserID); err != nil {
			_ = tx.Rollback()
			return err
		}

		identifier := newID()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO last_message_read (identifier, chat_room_identifier, app_user_identifier, message_timestamp_identifier)
			VALUES (?, ?, ?, ?)`, identifier, chatRoomID, appUserID, messageTimestampID); err != nil {
			_ = tx.Rollback()
			return err
		}

		return tx.Commit()
	})
}

// FetchCustomData returns free-form per-user metadata.
func (s *SQLiteStore) FetchCustomData(ctx context.Context, appUserID string) (domain.CustomData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT custom_data_json FROM custom_data WHERE app_user_identifier = ?`, appUserID)

	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan custom data row: %w", err)
	}

	var cd domain.CustomData
	if err := jsonUnmarshal(raw, &cd); err != nil {
		return nil, fmt.Errorf("decode custom data: %w", err)
	}
	return cd, nil
}

// FetchDeviceTokens returns every push token registered under appUserID.
func (s *SQLiteStore) FetchDeviceTokens(ctx context.Context, appUserID string) ([]domain.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fcm_token, application_identifier FROM session
		WHERE app_user_identifier = ? AND fcm_token IS NOT NULL AND fcm_token != ''`, appUserID)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()

	var out []domain.DeviceToken
	for rows.Next() {
		var t domain.DeviceToken
		if err := rows.Scan(&t.Token, &t.ApplicationID); err != nil {
			return nil, fmt.Errorf("scan device token row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
