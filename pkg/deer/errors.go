package deer

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrContentNotFound indicates content could not be resolved
	ErrContentNotFound = errors.New("content not found")

	// ErrNilContent indicates a write was attempted without content
	ErrNilContent = errors.New("content is nil")

	// ErrMissingSource indicates content was written without a publisher
	ErrMissingSource = errors.New("content source is required")

	// ErrClipNotWritable indicates a clip was written on its own
	ErrClipNotWritable = errors.New("clips cannot be written as top-level content")

	// ErrLockTimeout indicates a group lock could not be acquired in time
	ErrLockTimeout = errors.New("timed out acquiring lock")
)

// WriteError wraps any storage, messaging or timeout failure surfaced by a
// public write or update entry point.
type WriteError struct {
	Op  string
	ID  Id
	Err error
}

func (e *WriteError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("write operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("write operation %s failed for %s: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// MissingResourceError indicates a related resource required by a write,
// such as an episode's container, could not be resolved.
type MissingResourceError struct {
	ID   Id
	Type ContentType
}

func (e *MissingResourceError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("missing resource %s", e.ID)
	}
	return fmt.Sprintf("missing %s %s", e.Type, e.ID)
}

// CorruptContentError indicates a stored row lacks a mandatory column.
type CorruptContentError struct {
	Key     string
	Missing string
	Err     error
}

func (e *CorruptContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt content in row %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("corrupt content in row %s: missing column %s", e.Key, e.Missing)
}

func (e *CorruptContentError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err is, or wraps, a CorruptContentError.
func IsCorrupt(err error) bool {
	var corrupt *CorruptContentError
	return errors.As(err, &corrupt)
}

// IsMissingResource reports whether err is, or wraps, a MissingResourceError.
func IsMissingResource(err error) bool {
	var missing *MissingResourceError
	return errors.As(err, &missing)
}
