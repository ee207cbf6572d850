package streammap

import "fmt"

// SizeMismatchError reports a batched fault handler returning a result list
// whose length disagrees with the request. It fails the resolution of every
// key in the affected batch; no partial values are delivered.
type SizeMismatchError struct {
	Want int // number of keys requested
	Got  int // number of values returned
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("streammap: multi fault handler returned %d values for %d keys", e.Got, e.Want)
}
