package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryMigrationHasUpAndDown(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		body, err := fs.ReadFile(FS, name)
		require.NoError(t, err)
		text := string(body)
		assert.True(t, strings.HasPrefix(text, "-- +goose Up"), name)
		assert.Contains(t, text, "-- +goose Down", name)
	}
}

func TestSchemaCoversStores(t *testing.T) {
	var all strings.Builder
	files, _ := fs.Glob(FS, "*.sql")
	for _, name := range files {
		body, _ := fs.ReadFile(FS, name)
		all.Write(body)
	}
	for _, table := range []string{"users", "courses", "enrollments", "certificate_templates", "email_templates", "email_logs", "audit_logs"} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
	assert.Contains(t, all.String(), "UNIQUE (course_id, student_id)")
}
