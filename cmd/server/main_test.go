package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"hls-cdnsim/internal/cdn"
	"hls-cdnsim/internal/platform/config"
	"hls-cdnsim/internal/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestLadderCmd_full(t *testing.T) {
	out := runRoot(t, "ladder")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 9)
	assert.Contains(t, lines[0], "BITRATE")
	assert.Contains(t, lines[8], "25000000")
}

func TestLadderCmd_filtered(t *testing.T) {
	out := runRoot(t, "ladder", "--device", "mobile", "--bandwidth", "900000")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// header plus 400k and 800k
	assert.Len(t, lines, 3)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := openStore(ctx, config.Config{StoreBackend: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)
	closeFn()

	_, _, err = openStore(ctx, config.Config{StoreBackend: "etcd"})
	assert.Error(t, err)
}

func TestNewService_rejects_bad_config(t *testing.T) {
	repo := cdn.NewInMemoryRepository()

	_, err := newService(config.Config{EdgeStrategy: "random"}, repo, logger.Discard())
	assert.Error(t, err)

	_, err = newService(config.Config{AuthTokens: []string{"t:gold"}}, repo, logger.Discard())
	assert.Error(t, err)

	_, err = newService(config.Config{AudioTracks: []string{"en"}}, repo, logger.Discard())
	assert.Error(t, err)

	svc, err := newService(config.Config{AuthTokens: []string{"t:basic"}, AudioTracks: []string{"en:English:default"}}, repo, logger.Discard())
	require.NoError(t, err)
	assert.Len(t, svc.Ladder(), 8)
}
