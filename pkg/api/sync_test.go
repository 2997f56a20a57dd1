package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwoork/homeforpup-sub006/pkg/compose"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/syncer"
)

// The browsing client keeps its view in step with the server through the
// HTTP client, and compose splices its own writes in before the refresh.
func TestComposeAndSyncOverHTTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice", "Alice")
	bob := h.user("bob", "Bob")

	engine := syncer.New(alice, "alice", syncer.WithInterval(time.Hour), syncer.WithPageSize(10))
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Stop)
	assert.Empty(t, engine.Snapshot().Threads)

	composer := &compose.Composer{
		Self:   compose.Participant{ID: "alice", Name: "Alice"},
		Writer: alice,
		Finder: alice,
		View:   engine,
	}
	draft := compose.NewDraft("Crate training", "Any tips for the first week?")
	th, _, err := composer.ComposeOrReply(ctx, draft, compose.Participant{ID: "bob", Name: "Bob"}, models.MessageGeneral)
	require.NoError(t, err)
	assert.Equal(t, compose.Sent, draft.State())

	v := engine.Snapshot()
	require.Len(t, v.Threads, 1)
	assert.Equal(t, th.ID, v.Threads[0].ID)
	assert.Zero(t, v.Unread)

	_, err = bob.AppendMessage(ctx, models.NewMessage{ThreadID: th.ID, SenderID: "bob", Content: "Short sessions, lots of treats."})
	require.NoError(t, err)

	require.NoError(t, engine.RefreshThreads(ctx))
	v = engine.Snapshot()
	assert.Equal(t, 1, v.Unread)

	require.NoError(t, engine.Select(ctx, th.ID))
	v = engine.Snapshot()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "Short sessions, lots of treats.", v.Messages[1].Content)

	// a second compose to the same person continues the conversation
	again := compose.NewDraft("Crate training", "Thanks!")
	th2, _, err := composer.ComposeOrReply(ctx, again, compose.Participant{ID: "bob", Name: "Bob"}, models.MessageGeneral)
	require.NoError(t, err)
	assert.Equal(t, th.ID, th2.ID)
	all, err := alice.ListThreadsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Zero(t, all[0].Unread("alice"), "replying acknowledges the thread")
}
