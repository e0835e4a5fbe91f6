package pipeline

import "fmt"

// ReadError reports an I/O failure on the input source. It is fatal: logview
// dumps are local static files, so transient errors are not expected to
// self-heal and there is no retry.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read logview input: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
