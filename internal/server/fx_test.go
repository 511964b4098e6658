package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navguard/navguard/internal/config"
)

func TestBuildWiresApplication(t *testing.T) {
	cfg := config.Config{
		Application: config.ApplicationConfig{ServiceName: "navguard-test", Version: "test"},
		Server:      config.ServerConfig{Port: 0, ShutdownTimeoutSec: 1},
		Lists: config.ListsConfig{
			Source:         "testdata/lists.json",
			RefreshSeconds: 0,
			MaxBodyBytes:   1 << 20,
		},
		Workers: config.WorkersConfig{Count: 1, QueueDepth: 4},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5, MaxRetries: 1},
		Storage: config.StorageConfig{Provider: "memory", Prefix: "snapshots"},
		Logging: config.LoggingConfig{Development: true, Level: "error"},
	}

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	require.NotNil(t, app.apiServer)
	require.NotNil(t, app.dispatch)
	require.NotNil(t, app.sched)
	require.NotNil(t, app.hub)
	require.NotNil(t, app.queue)
	require.NotNil(t, app.fetch)
	require.Nil(t, app.decisionStore)
	require.Nil(t, app.pubsubPub)

	require.NoError(t, app.Close(context.Background()))
}
