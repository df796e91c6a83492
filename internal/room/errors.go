package room

import "errors"

// Sentinel errors returned by Session operations. Callers match them
// with errors.Is; the HTTP layer maps them to status codes.
var (
	ErrNameEmpty      = errors.New("name is empty")
	ErrInvalidType    = errors.New("invalid item type")
	ErrFolderNotEmpty = errors.New("folder is not empty")
	ErrNotFound       = errors.New("not found")
	ErrCycle          = errors.New("cannot move a folder into itself or its descendants")
	ErrNoOpenDocument = errors.New("no document is open")
	ErrClosed         = errors.New("room session is closed")
	ErrPipeline       = errors.New("image processing failed")
)
