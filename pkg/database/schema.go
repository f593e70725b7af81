package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// Separate from the migration system so deployment verification can run
// without mutating the database.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"chat_lobby":        "Lobby chat message storage",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
func (v *SchemaValidator) ValidateTableStructure() error {
	chatColumns := map[string]string{
		"id":         "TEXT",
		"class_id":   "TEXT",
		"user":       "TEXT",
		"avatar":     "TEXT",
		"msg":        "TEXT",
		"created_at": "DATETIME",
	}

	if err := v.validateColumns("chat_lobby", chatColumns); err != nil {
		return fmt.Errorf("chat_lobby table structure invalid: %w", err)
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`

	var count int
	err := v.db.QueryRow(query, tableName).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return fmt.Errorf("failed to query table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	actualColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		actualColumns[name] = colType
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating column info: %w", err)
	}

	for column, expectedType := range expectedColumns {
		actualType, exists := actualColumns[column]
		if !exists {
			return fmt.Errorf("column %s missing from table %s", column, tableName)
		}
		if actualType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", column, actualType, expectedType)
		}
	}

	return nil
}
