package content

import "fmt"

// Tier identifies a projection strategy.
type Tier int

// Projection tiers.
const (
	// TierFull includes attachment-derived text.
	TierFull Tier = iota + 1
	// TierReduced omits attachment-derived text.
	TierReduced
)

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierReduced:
		return "reduced"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ProjectionError reports that a message could not be serialized.
// The two failure causes are told apart only by Tier.
type ProjectionError struct {
	Tier Tier
	Err  error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("content: %s projection: %v", e.Tier, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

func (e *ProjectionError) Is(target error) bool {
	return target == ErrProjection
}

func projectionError(tier Tier, format string, args ...any) error {
	return &ProjectionError{Tier: tier, Err: fmt.Errorf(format, args...)}
}
