package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"auth error", NewError(KindForbidden, "Permission denied", nil), KindForbidden},
		{"wrapped auth error", fmt.Errorf("gate: %w", NewError(KindNotFound, "Role not found", nil)), KindNotFound},
		{"store failure", storeFailure("loading user", errors.New("disk I/O error")), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"busy database", fmt.Errorf("updating role: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), KindTransient},
		{"locked table", sqlite3.Error{Code: sqlite3.ErrLocked}, KindTransient},
		{"other sqlite error", sqlite3.Error{Code: sqlite3.ErrCorrupt}, KindInternal},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	if got := MessageOf(busy); got != "Service temporarily unavailable" {
		t.Errorf("MessageOf(busy) = %q", got)
	}
}
