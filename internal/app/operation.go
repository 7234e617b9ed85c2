package app

import "treebak/internal/database"

// Operation tracks one CLI invocation. Operations start in memory with
// ID=0; commands that change the vault persist them as a run record.
type Operation struct {
	ID         int64
	RunID      string
	Name       string
	Parameters string
	Status     string
	Manifest   string
	Uploaded   int
}

// NewOperation creates an in-memory operation that will succeed unless
// Fail is called.
func NewOperation(runID, name, parameters string) *Operation {
	return &Operation{
		RunID:      runID,
		Name:       name,
		Parameters: parameters,
		Status:     database.StatusSucceeded,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = database.StatusFailed
}
