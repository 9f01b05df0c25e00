package ext2

import "fmt"

// errWrap folds a lower-level error into one of the seven sentinel kinds
// from package filesystem, so callers can errors.Is against the kind while
// still seeing the underlying cause in the message.
func errWrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %v", kind, cause)
}
