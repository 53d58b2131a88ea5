package notebook

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrDocumentFormat   = errors.New("document format error")
	ErrTagNotFound      = errors.New("tag not found")
	ErrInvalidDirective = errors.New("invalid directive")
	ErrUnsupported      = errors.New("unsupported operation")
)

// DocumentFormatError is returned by a load when the document cannot be
// read or decoded. The notebook keeps its previous blocks.
type DocumentFormatError struct {
	Path string
	Err  error
}

func (e *DocumentFormatError) Error() string {
	return fmt.Sprintf("notebook: load %s: %v", e.Path, e.Err)
}

func (e *DocumentFormatError) Unwrap() error { return e.Err }

func (e *DocumentFormatError) Is(target error) bool { return target == ErrDocumentFormat }

// TagNotFoundError is returned by strict tag-seeking runs when no block
// carries the tag.
type TagNotFoundError struct {
	Tag string
}

func (e *TagNotFoundError) Error() string {
	return fmt.Sprintf("notebook: tag %q not found", e.Tag)
}

func (e *TagNotFoundError) Is(target error) bool { return target == ErrTagNotFound }

// InvalidDirectiveError reports a malformed tag directive on the first line
// of a code block.
type InvalidDirectiveError struct {
	// Position is the cell index in the document, or -1 when unknown.
	Position int
	Line     string
	Reason   string
}

func (e *InvalidDirectiveError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("notebook: cell %d: invalid directive %q: %s", e.Position, e.Line, e.Reason)
	}
	return fmt.Sprintf("notebook: invalid directive %q: %s", e.Line, e.Reason)
}

func (e *InvalidDirectiveError) Is(target error) bool { return target == ErrInvalidDirective }

// UnsupportedOperationError is returned for operations the notebook's
// configuration does not allow.
type UnsupportedOperationError struct {
	Op     string
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("notebook: %s: %s", e.Op, e.Reason)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupported }
