package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "classlobby/pkg/database"
	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// writeRetryDelay is how long a failed write waits before its single retry.
const writeRetryDelay = 5 * time.Second

// Manager implements the interfaces.ChatLog persistence collaborator on
// SQLite. All writes funnel through a single goroutine: SQLite allows one
// writer at a time, and serializing in-process avoids busy-loop contention.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the chat log database, applies migrations and starts the
// writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
// A failed write is retried exactly once; the caller sees the final outcome.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Chat log write failed, retrying in %s: %v", writeRetryDelay, err)
				time.Sleep(writeRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Chat log write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Chat log write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrChatLogClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		// A close racing the queued write abandons it; result is buffered so
		// the write loop never blocks on an abandoned operation
		select {
		case err := <-result:
			return err
		case <-m.shutdown:
			return interfaces.ErrChatLogClosed
		}
	case <-time.After(30 * time.Second):
		return fmt.Errorf("chat log write timeout")
	case <-m.shutdown:
		return interfaces.ErrChatLogClosed
	}
}

// AppendMessage persists a single chat message
func (m *Manager) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO chat_lobby (id, class_id, user, avatar, msg, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`

		_, err := db.ExecContext(ctx, query,
			message.ID,
			message.ClassID,
			message.User,
			message.Avatar,
			message.Body,
			message.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}

		return nil
	})
}

// RoomHistory returns up to limit messages for a room in ascending receipt
// order. The query selects the newest rows first and the result is reversed,
// so a long-lived room still serves the most recent window.
func (m *Manager) RoomHistory(ctx context.Context, room string, limit int) ([]*types.ChatMessage, error) {
	query := `
		SELECT id, class_id, user, avatar, msg, created_at
		FROM chat_lobby
		WHERE class_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage

	for rows.Next() {
		var message types.ChatMessage
		err := rows.Scan(
			&message.ID,
			&message.ClassID,
			&message.User,
			&message.Avatar,
			&message.Body,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat message rows: %w", err)
	}

	// Restore chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_lobby").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying connection for schema validation in tests.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the chat log manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applySQLiteOptimizations applies performance pragmas
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
