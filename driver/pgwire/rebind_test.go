package pgwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindPositional(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no placeholders", "SELECT 1", "SELECT 1"},
		{"simple", "SELECT * FROM t WHERE id = ? AND name = ?", "SELECT * FROM t WHERE id = $1 AND name = $2"},
		{"quoted question mark ignored", "SELECT '?' FROM t WHERE id = ?", "SELECT '?' FROM t WHERE id = $1"},
		{"double quoted identifier ignored", `SELECT "col?name" FROM t WHERE id = ?`, `SELECT "col?name" FROM t WHERE id = $1`},
		{"line comment ignored", "SELECT 1 -- what? \nWHERE id = ?", "SELECT 1 -- what? \nWHERE id = $1"},
		{"block comment ignored", "SELECT 1 /* huh? */ WHERE id = ?", "SELECT 1 /* huh? */ WHERE id = $1"},
		{"dollar quoted body ignored", "SELECT $$literal ? text$$ WHERE id = ?", "SELECT $$literal ? text$$ WHERE id = $1"},
		{"escaped single quote", "SELECT 'it''s ?' WHERE id = ?", "SELECT 'it''s ?' WHERE id = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RebindPositional(tt.query))
		})
	}
}
