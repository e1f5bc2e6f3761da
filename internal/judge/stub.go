package judge

import (
	"context"
	"fmt"
)

// StubCompleter is a deterministic Completer that always prefers the
// attempt with the lower ordinal (spec §8 end-to-end scenario 5). It lets
// the bBoN pipeline and its tests run without a real LLM transport, per
// spec §1: "a faithful implementation can stub the LLM behind a
// deterministic judge and still pass the test suite."
type StubCompleter struct {
	// LeftOrdinal and RightOrdinal are the ordinals of the attempts named
	// "A" and "B" in the prompt, supplied by the caller since the
	// Completer interface only sees rendered text.
	LeftOrdinal, RightOrdinal int
}

func (s StubCompleter) Complete(_ context.Context, _, _ string, _ float64) (string, error) {
	winner := "A"
	if s.RightOrdinal < s.LeftOrdinal {
		winner = "B"
	}
	return fmt.Sprintf(`{"winner":%q,"confidence":1,"rationale":"stub: lower ordinal wins"}`, winner), nil
}
