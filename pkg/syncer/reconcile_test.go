package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

func TestReconcileThreads(t *testing.T) {
	tests := []struct {
		name        string
		server      []models.Thread
		overlay     []models.Thread
		wantMerged  []string
		wantPending []string
	}{
		{
			name:       "no overlay",
			server:     []models.Thread{thread("a", 20, 0), thread("b", 10, 0)},
			wantMerged: []string{"a", "b"},
		},
		{
			name:        "new thread not yet served",
			server:      []models.Thread{thread("a", 20, 0)},
			overlay:     []models.Thread{thread("n", 30, 0)},
			wantMerged:  []string{"n", "a"},
			wantPending: []string{"n"},
		},
		{
			name:        "server copy older than local write",
			server:      []models.Thread{thread("a", 20, 0), thread("b", 10, 0)},
			overlay:     []models.Thread{thread("b", 40, 0)},
			wantMerged:  []string{"b", "a"},
			wantPending: []string{"b"},
		},
		{
			name:       "server caught up",
			server:     []models.Thread{thread("a", 20, 0), thread("b", 40, 0)},
			overlay:    []models.Thread{thread("b", 40, 0)},
			wantMerged: []string{"b", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, pending := ReconcileThreads(tt.server, tt.overlay)
			assert.Equal(t, tt.wantMerged, ids(merged))
			if tt.wantPending == nil {
				assert.Empty(t, pending)
			} else {
				assert.Equal(t, tt.wantPending, ids(pending))
			}
		})
	}
}

func TestReconcileThreadsPrefersOverlayCopy(t *testing.T) {
	local := thread("b", 40, 0)
	local.LastMessage.Content = "just sent"
	merged, _ := ReconcileThreads([]models.Thread{thread("b", 10, 0)}, []models.Thread{local})
	assert.Equal(t, "just sent", merged[0].LastMessage.Content)
}

func TestReconcileMessages(t *testing.T) {
	tests := []struct {
		name        string
		server      []models.Message
		hasMore     bool
		overlay     []models.Message
		wantMerged  []string
		wantPending []string
	}{
		{
			name:        "local message not yet served",
			server:      []models.Message{message("t", "m1", 10)},
			overlay:     []models.Message{message("t", "m2", 20)},
			wantMerged:  []string{"m1", "m2"},
			wantPending: []string{"m2"},
		},
		{
			name:       "served",
			server:     []models.Message{message("t", "m1", 10), message("t", "m2", 20)},
			overlay:    []models.Message{message("t", "m2", 20)},
			wantMerged: []string{"m1", "m2"},
		},
		{
			name:       "older than a truncated page",
			server:     []models.Message{message("t", "m5", 50), message("t", "m6", 60)},
			hasMore:    true,
			overlay:    []models.Message{message("t", "m1", 10)},
			wantMerged: []string{"m5", "m6"},
		},
		{
			name:        "interleaved by timestamp",
			server:      []models.Message{message("t", "m1", 10), message("t", "m3", 30)},
			overlay:     []models.Message{message("t", "m2", 20)},
			wantMerged:  []string{"m1", "m2", "m3"},
			wantPending: []string{"m2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, pending := ReconcileMessages(tt.server, tt.hasMore, tt.overlay)
			assert.Equal(t, tt.wantMerged, msgIDs(merged))
			if tt.wantPending == nil {
				assert.Empty(t, pending)
			} else {
				assert.Equal(t, tt.wantPending, msgIDs(pending))
			}
		})
	}
}

func TestFingerprints(t *testing.T) {
	a := ThreadsFingerprint([]models.Thread{thread("a", 20, 1), thread("b", 10, 2)}, "alice")
	assert.Equal(t, Fingerprint{Newest: 20, Count: 2, Unread: 3}, a)
	assert.Equal(t, Fingerprint{Newest: 20, Count: 2, Unread: 0},
		ThreadsFingerprint([]models.Thread{thread("a", 20, 1), thread("b", 10, 2)}, "bob"))

	msgs := []models.Message{message("t", "m1", 10), message("t", "m2", 20)}
	assert.Equal(t, Fingerprint{Newest: 20, Count: 2, Unread: 2}, MessagesFingerprint(msgs, "alice"))
	msgs[0].Read = true
	assert.Equal(t, Fingerprint{Newest: 20, Count: 2, Unread: 1}, MessagesFingerprint(msgs, "alice"))
}

func TestDropVanished(t *testing.T) {
	tests := []struct {
		name     string
		previous []models.Thread
		current  []models.Thread
		overlay  []models.Thread
		want     []string
	}{
		{
			name:    "first poll keeps everything",
			current: []models.Thread{thread("a", 20, 0)},
			overlay: []models.Thread{thread("n", 30, 0)},
			want:    []string{"n"},
		},
		{
			name:     "never listed is kept",
			previous: []models.Thread{thread("a", 20, 0)},
			current:  []models.Thread{thread("a", 20, 0)},
			overlay:  []models.Thread{thread("n", 30, 0)},
			want:     []string{"n"},
		},
		{
			name:     "deleted on the server is dropped",
			previous: []models.Thread{thread("a", 20, 0), thread("b", 10, 0)},
			current:  []models.Thread{thread("a", 20, 0)},
			overlay:  []models.Thread{thread("b", 40, 0), thread("n", 30, 0)},
			want:     []string{"n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(DropVanished(tt.previous, tt.current, tt.overlay)))
		})
	}
}
