package storage

import (
	"fmt"
	"strings"
)

// NewStore builds a store backend. location is the database path for sqlite
// and the bucket (optionally gs://-prefixed) for gcs.
func NewStore(kind, location string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(location)
	case "gcs":
		bucket := strings.TrimPrefix(location, "gs://")
		if bucket == "" {
			return nil, fmt.Errorf("gcs store requires a bucket")
		}
		return NewGCSStore(bucket), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
