package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/coffer"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"Serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, true},
		{"Deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: codeDeadlockDetected}), true},
		{"Unique violation", &pgconn.PgError{Code: codeUniqueViolation}, false},
		{"Plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if errors.Is(got, coffer.ErrStorageConflict) != tt.conflict {
				t.Errorf("classify(%v) conflict = %v, want %v", tt.err, !tt.conflict, tt.conflict)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classify must keep the original error in the chain")
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: singleActiveEventIndex})
	if !isUniqueViolation(err, singleActiveEventIndex) {
		t.Error("expected match on the single-active index")
	}
	if isUniqueViolation(err, "coffer_events_pkey") {
		t.Error("unexpected match on another constraint")
	}
	if !isUniqueViolation(err, "") {
		t.Error("empty constraint should match any unique violation")
	}
}

func TestIsOutOfRange(t *testing.T) {
	err := fmt.Errorf("update: %w", &pgconn.PgError{Code: codeOutOfRange, Message: "bigint out of range"})
	if !isOutOfRange(err) {
		t.Error("expected match on bigint overflow")
	}
	if isOutOfRange(&pgconn.PgError{Code: codeCheckViolation}) {
		t.Error("unexpected match on a check violation")
	}
}
