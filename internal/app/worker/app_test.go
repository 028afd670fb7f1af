package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hitl-agent/pkg/config"
)

func workerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Session.Type = "memory"
	cfg.Worker.SweepSchedule = "@every 1h"
	return cfg
}

func TestNewApp_InvalidSchedule(t *testing.T) {
	cfg := workerConfig()
	cfg.Worker.SweepSchedule = "every now and then"
	_, err := NewApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestApp_StartSweepShutdown(t *testing.T) {
	a, err := NewApp(context.Background(), workerConfig())
	require.NoError(t, err)
	require.NoError(t, a.Start())

	n, err := a.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, a.cron.Entries(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, a.Shutdown(ctx))
}
