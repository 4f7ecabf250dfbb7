package data

import "fmt"

// ItemNotFoundError is returned when an id does not reference an item of the
// expected kind.
type ItemNotFoundError struct {
	ID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %q not found", e.ID)
}

// ParentNotFoundError is returned when a new or moved item references a parent
// that is not an existing folder.
type ParentNotFoundError struct {
	ParentID string
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("parent folder %q not found", e.ParentID)
}

// StoreCorruptError is returned by a load when the persisted tree violates the
// tree invariant. It is fatal to startup.
type StoreCorruptError struct {
	Err error
}

func (e *StoreCorruptError) Error() string {
	return fmt.Sprintf("page store is corrupt: %v", e.Err)
}

func (e *StoreCorruptError) Unwrap() error { return e.Err }

// PersistError is returned when a durable write fails. The attempted mutation
// has been rolled back and may be retried.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
