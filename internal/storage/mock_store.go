package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the safety.SnapshotStore interface
// for testing.
type MockStore struct {
	mock.Mock
}

// PutObject is the mock implementation of the PutObject method.
func (m *MockStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, r)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
