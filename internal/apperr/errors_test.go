package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("workflow", "wf-1")))
	assert.Equal(t, CodeForbidden, CodeOf(Forbidden("nope")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", NoPendingStep("wf-1"))
	assert.Equal(t, CodeNoPendingStep, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeNoPendingStep))
}

func TestFromStorage(t *testing.T) {
	tests := []struct {
		name     string
		sqlstate string
		want     Code
	}{
		{"serialization failure", "40001", CodeConflict},
		{"deadlock", "40P01", CodeConflict},
		{"too many connections", "53300", CodeUnavailable},
		{"admin shutdown", "57P01", CodeUnavailable},
		{"connection failure class", "08006", CodeUnavailable},
		{"unique violation", "23505", CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStorage(&pgconn.PgError{Code: tt.sqlstate}, "query failed")
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}
}

func TestFromStoragePassThrough(t *testing.T) {
	// Already-coded errors keep their code.
	orig := Forbidden("role mismatch")
	assert.Equal(t, CodeForbidden, CodeOf(FromStorage(orig, "ignored")))

	assert.NoError(t, FromStorage(nil, "ignored"))
}
