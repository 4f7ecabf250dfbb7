package data

import "context"

// Store is the key/value blob store behind the page tree and the settings.
// The SQL, redis and file backends all satisfy it.
type Store interface {
	// Backend returns a short name of the storage engine for logging.
	Backend() string

	// LoadRecords returns every persisted item record, in no particular order.
	LoadRecords(ctx context.Context) ([]Record, error)

	// LoadSettings returns every persisted setting.
	LoadSettings(ctx context.Context) (map[string]string, error)

	// Commit applies a batch atomically: either every put, delete and setting
	// write becomes durable or none does.
	Commit(ctx context.Context, b Batch) error

	Close() error
}

// Batch is a set of writes committed together.
type Batch struct {
	Put      []Record
	Delete   []string
	Settings map[string]string
}

// Empty reports whether the batch contains no writes.
func (b Batch) Empty() bool {
	return len(b.Put) == 0 && len(b.Delete) == 0 && len(b.Settings) == 0
}

// PutItems encodes items and appends them to the batch.
func (b *Batch) PutItems(items ...Item) error {
	for _, item := range items {
		rec, err := EncodeItem(item)
		if err != nil {
			return err
		}
		b.Put = append(b.Put, rec)
	}
	return nil
}
