package app

import (
	"testing"

	"treebak/internal/database"
)

func TestNewOperation(t *testing.T) {
	op := NewOperation("run-1", "backup", "roots=/home")

	if op.ID != 0 {
		t.Errorf("ID = %d, want 0", op.ID)
	}
	if op.RunID != "run-1" || op.Name != "backup" || op.Parameters != "roots=/home" {
		t.Errorf("unexpected operation %+v", op)
	}
	if op.Status != database.StatusSucceeded {
		t.Errorf("Status = %q, want %q", op.Status, database.StatusSucceeded)
	}
	if op.Persisted() {
		t.Error("new operation should not be persisted")
	}
}

func TestOperation_PersistedAndFail(t *testing.T) {
	op := NewOperation("run-1", "restore", "")
	op.ID = 7
	if !op.Persisted() {
		t.Error("operation with an ID should be persisted")
	}

	op.Fail()
	if op.Status != database.StatusFailed {
		t.Errorf("Status = %q, want %q", op.Status, database.StatusFailed)
	}
}
