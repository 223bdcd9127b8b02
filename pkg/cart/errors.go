package cart

import (
	"errors"
	"fmt"
)

// ErrInvalidCount is returned for a non-positive item count.
var ErrInvalidCount = errors.New("count must be at least 1")

// Variant names one of the three add-to-cart modes.
type Variant string

const (
	// TopSponsored searches a term and adds the first labelled sponsored
	// entries without waiting for confirmation.
	TopSponsored Variant = "top-sponsored"
	// CurrentSponsored adds sponsored entries from the page already open and
	// counts only confirmed adds.
	CurrentSponsored Variant = "current-sponsored"
	// ByIdentifier adds specific products by identifier.
	ByIdentifier Variant = "by-identifier"
)

// ActionError reports an infrastructure failure that aborted a cart action.
type ActionError struct {
	Variant Variant
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("cart %s: %v", e.Variant, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
