package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPgSortExpression(t *testing.T) {
	expr, bind := pgSortExpression("")
	assert.Equal(t, "created_at", expr)
	assert.False(t, bind)

	expr, bind = pgSortExpression("timestamp")
	assert.Equal(t, "data->>$8", expr)
	assert.True(t, bind)

	// caller input must never become SQL text, only a bind parameter
	hostile := "timestamp'; DROP TABLE documents; --"
	expr, bind = pgSortExpression(hostile)
	assert.Equal(t, "data->>$8", expr)
	assert.True(t, bind)
	assert.NotContains(t, expr, hostile)
}
