package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
)

func TestRuntime_ApplyRebuildsIndexAndRedis(t *testing.T) {
	cfg := config.Default()
	cfg.CaptureLocations = []string{t.TempDir()}
	store := config.NewStoreFrom("", cfg)

	rt, err := newRuntime(store, zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	original := rt.index.Current()
	assert.Nil(t, rt.redis.Current())

	same := cfg.Snapshot()
	rt.apply(same)
	assert.Same(t, original, rt.index.Current(), "unchanged index settings keep the client")

	next := cfg.Snapshot()
	next.Index.URL = "http://index-2.local:9200"
	next.Index.Proxy.HTTP = "http://proxy.local:3128"
	next.Stats.RedisAddr = "127.0.0.1:6390"
	rt.apply(next)
	assert.NotSame(t, original, rt.index.Current())
	assert.Equal(t, next.Index, rt.indexCfg)
	assert.NotNil(t, rt.redis.Current())

	off := next.Snapshot()
	off.Stats.RedisAddr = ""
	rt.apply(off)
	assert.Nil(t, rt.redis.Current())
}

func TestRuntime_ApplyKeepsClientOnBadProxy(t *testing.T) {
	cfg := config.Default()
	cfg.CaptureLocations = []string{t.TempDir()}
	rt, err := newRuntime(config.NewStoreFrom("", cfg), zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	original := rt.index.Current()
	next := cfg.Snapshot()
	next.Index.Proxy.SOCKS5 = "://bad"
	rt.apply(next)
	assert.Same(t, original, rt.index.Current())
	assert.Equal(t, cfg.Index, rt.indexCfg)
}
