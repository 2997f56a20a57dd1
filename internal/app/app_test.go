package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwoork/homeforpup-sub006/pkg/client"
	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

func effective(t *testing.T, dir string) config.EffectiveConfigResult {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.DBPath = dir
	require.NoError(t, cfg.ValidateConfig())
	return config.EffectiveConfigResult{Config: cfg, Addr: "127.0.0.1:0", DBPath: dir, Source: "test"}
}

func start(t *testing.T, a *App) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	addr, err := a.Addr(waitCtx)
	require.NoError(t, err)
	return "http://" + addr.String(), cancel, errCh
}

func stop(t *testing.T, a *App, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	cancel()
	require.NoError(t, <-errCh)
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, a.Shutdown(ctx))
	assert.Equal(t, "stopped", a.State())
}

func TestAppServesAndPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := New(effective(t, dir), "1.2.3", "abc123", "today")
	require.NoError(t, err)
	assert.Equal(t, "initialized", a.State())
	base, cancel, errCh := start(t, a)
	assert.Equal(t, "running", a.State())

	alice := client.New(base, client.WithIdentity("alice", "Alice"))
	require.NoError(t, alice.Health(ctx))

	th, _, err := alice.CreateThread(ctx, models.NewThread{
		SenderID: "alice", SenderName: "Alice", ReceiverID: "bob", ReceiverName: "Bob",
		Subject: "Corgi", Content: "Is the blue merle available?",
	})
	require.NoError(t, err)

	bob := client.New(base, client.WithIdentity("bob", "Bob"))
	unread, err := bob.UnreadTotal(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	stop(t, a, cancel, errCh)

	// reopen on the same directory
	b, err := New(effective(t, dir), "1.2.3", "", "")
	require.NoError(t, err)
	got, err := b.repo.GetThreadFor(ctx, th.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Corgi", got.Subject)
	assert.Equal(t, 1, got.Unread("bob"))
	require.NoError(t, b.Shutdown(ctx))
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(config.EffectiveConfigResult{DBPath: t.TempDir()}, "dev", "", "")
	assert.Error(t, err)
}
