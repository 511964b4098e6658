// Package storage provides snapshot archive backends. Concrete stores live in
// the gcs, local, and memory subpackages; all of them satisfy
// safety.SnapshotStore so the refresh pipeline stays independent of where
// list payloads are archived.
package storage

import (
	"context"
	"io"
)

// NoOpStore discards snapshots. It is useful for dry runs where list payloads
// are fetched and parsed but not archived.
type NoOpStore struct{}

// PutObject drains the reader and reports an empty URI.
func (NoOpStore) PutObject(_ context.Context, _ string, _ string, r io.Reader) (string, error) {
	if r != nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return "", err
		}
	}
	return "", nil
}
