package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations holds the ordered schema history. Migrations are embedded in the
// binary so deployments never depend on a migrations directory being present
// next to the executable.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "create chat_lobby table",
		SQL: `
			CREATE TABLE IF NOT EXISTS chat_lobby (
				id TEXT PRIMARY KEY,
				class_id TEXT NOT NULL,
				user TEXT NOT NULL,
				avatar TEXT NOT NULL DEFAULT '',
				msg TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);
		`,
	},
	{
		Version:     "002",
		Description: "index chat_lobby by room and receipt time",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_chat_lobby_class_created
			ON chat_lobby (class_id, created_at);
		`,
	},
}

// MigrationManager handles database migrations
// Applied versions are tracked in schema_migrations so restarts are no-ops.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations in version order.
// Each migration runs in its own transaction together with its tracking row,
// so a failure leaves the database at the last fully applied version.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// ValidateSchema ensures the database matches the expected structure
func (m *MigrationManager) ValidateSchema() error {
	validator := NewSchemaValidator(m.db)
	if err := validator.ValidateTablesExist(); err != nil {
		return err
	}
	return validator.ValidateTableStructure()
}

func (m *MigrationManager) createMigrationTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.Exec(query)
	return err
}

func (m *MigrationManager) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
