package testutil

import (
	"fmt"
	"sync/atomic"
)

// StubIDGenerator returns sequential run ids: "run-1", "run-2", ...
type StubIDGenerator struct {
	n atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("run-%d", g.n.Add(1))
}
