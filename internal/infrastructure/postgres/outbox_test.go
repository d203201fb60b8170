package postgres

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// The relay statements may only touch columns the migration actually
// creates. A missing column fails every mark-processed UPDATE, which
// strands entries unprocessed and republishes them on every poll.
func TestOutboxMigrationCoversRelayColumns(t *testing.T) {
	ddl := outboxTableDDL(t)

	for _, col := range []string{
		"id", "entity_id", "entity_type", "event_type", "payload",
		"topic", "key", "created_at", "updated_at", "processed_at",
		"retry_count", "last_error",
	} {
		if !strings.Contains(ddl, col) {
			t.Errorf("outbox DDL is missing column %q referenced by the relay", col)
		}
	}
}

func outboxTableDDL(t *testing.T) string {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "db", "migrations", "001_init.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	const marker = "CREATE TABLE IF NOT EXISTS outbox ("
	start := strings.Index(string(raw), marker)
	if start < 0 {
		t.Fatal("migration does not create the outbox table")
	}
	rest := string(raw)[start:]
	end := strings.Index(rest, ");")
	if end < 0 {
		t.Fatal("unterminated outbox table definition")
	}
	return rest[:end]
}
