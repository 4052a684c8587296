package datasets

import (
	"fmt"
	"sort"
)

// LengthMismatchError signals a trajectory whose fields disagree on the
// trajectory length after broadcasting. Fatal: it means the source data is
// malformed, and letting it through would truncate or merge steps silently.
type LengthMismatchError struct {
	// Lengths maps each field to its post-broadcast leading dimension.
	Lengths map[string]int
	// Canonical is the length the trajectory should have had.
	Canonical int
}

func (e *LengthMismatchError) Error() string {
	if len(e.Lengths) == 0 {
		return "trajectory has no length-bearing fields"
	}
	names := make([]string, 0, len(e.Lengths))
	for name := range e.Lengths {
		names = append(names, name)
	}
	sort.Strings(names)
	msg := fmt.Sprintf("trajectory fields disagree on length (canonical %d):", e.Canonical)
	for _, name := range names {
		msg += fmt.Sprintf(" %s=%d", name, e.Lengths[name])
	}
	return msg
}

// KeyOverflowError signals a trajectory index or length that does not fit its
// share of the composite key. Fatal by design: clamping or truncating would
// produce key collisions that silently merge unrelated trajectories during
// regrouping.
type KeyOverflowError struct {
	Index  int64
	Length int
}

func (e *KeyOverflowError) Error() string {
	return fmt.Sprintf("trajectory index %d / length %d exceed the composite key budget (index < 2^%d, length < 2^%d)",
		e.Index, e.Length, trajIndexBits, 63-trajIndexBits)
}

// ReservedFieldError signals input data that already defines one of the
// reserved tag fields. Fatal configuration error.
type ReservedFieldError struct {
	Field string
}

func (e *ReservedFieldError) Error() string {
	return fmt.Sprintf("input field %q collides with a reserved trajectory tag field", e.Field)
}
