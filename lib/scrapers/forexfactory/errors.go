package forexfactory

import (
	"fmt"
	"time"
)

// ExtractionExhaustedError reports that every attempt for one day failed,
// across both extraction modes. It is recoverable at the range level: the
// day yields zero events and the run continues.
type ExtractionExhaustedError struct {
	Day      time.Time
	Attempts int
	Err      error
}

func (e *ExtractionExhaustedError) Error() string {
	return fmt.Sprintf("extraction exhausted for %s after %d attempts: %v",
		e.Day.Format("2006-01-02"), e.Attempts, e.Err)
}

func (e *ExtractionExhaustedError) Unwrap() error { return e.Err }
