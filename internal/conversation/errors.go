package conversation

import "fmt"

// ValidationError reports a malformed submission. Reason is safe to show to
// the caller verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StorageError reports a failure to persist the conversation log.
type StorageError struct {
	Op   string // persist | append
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("conversation %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpstreamError reports a failure of the reply-generation capability.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("reply generation failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
