package fetcher

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/telemetry"
)

// Local reads the list document from a file on disk. It backs development
// setups and air-gapped deployments where the document is distributed out
// of band.
type Local struct {
	path    string
	maxBody int64
}

// NewLocal builds a Local fetcher for the given file path.
func NewLocal(path string, maxBodyBytes int64) *Local {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Local{path: path, maxBody: maxBodyBytes}
}

// Source returns the configured file path.
func (l *Local) Source() string {
	return l.path
}

// Fetch reads the whole document from disk.
func (l *Local) Fetch(ctx context.Context) (safety.Payload, error) {
	if err := ctx.Err(); err != nil {
		return safety.Payload{}, fmt.Errorf("fetch canceled: %w", err)
	}
	f, err := os.Open(l.path)
	if err != nil {
		telemetry.ObserveFetch(l.path, "error", 0)
		return safety.Payload{}, fmt.Errorf("open list file %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	body, err := io.ReadAll(io.LimitReader(f, l.maxBody+1))
	if err != nil {
		telemetry.ObserveFetch(l.path, "error", 0)
		return safety.Payload{}, fmt.Errorf("read list file %s: %w", l.path, err)
	}
	if int64(len(body)) > l.maxBody {
		telemetry.ObserveFetch(l.path, "oversize", len(body))
		return safety.Payload{}, fmt.Errorf("list file %s exceeds %d bytes", l.path, l.maxBody)
	}
	telemetry.ObserveFetch(l.path, "ok", len(body))
	return safety.Payload{Body: body, Source: l.path}, nil
}
