package clustering

import (
	"errors"
	"fmt"
)

// ErrStoreFailure wraps any persistence error that aborted a run.
var ErrStoreFailure = errors.New("clustering store failure")

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// ExtractionError reports an image whose faces could not be read. Runs
// skip such images.
type ExtractionError struct {
	ImageID int64
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract faces from image %d: %v", e.ImageID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
