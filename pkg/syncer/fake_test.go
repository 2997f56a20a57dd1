package syncer

import (
	"context"
	"sort"
	"sync"

	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

// fakeSource serves threads and messages from memory. A gate registered
// for a resource ("threads" or a thread id) blocks fetches of it until
// the gate is closed.
type fakeSource struct {
	mu       sync.Mutex
	threads  []models.Thread
	messages map[string][]models.Message
	err      error
	gates    map[string]chan struct{}
	entered  chan string
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[string][]models.Message),
		gates:    make(map[string]chan struct{}),
		entered:  make(chan string, 16),
		calls:    make(map[string]int),
	}
}

func (f *fakeSource) wait(resource string) {
	f.mu.Lock()
	f.calls[resource]++
	gate := f.gates[resource]
	f.mu.Unlock()
	select {
	case f.entered <- resource:
	default:
	}
	if gate != nil {
		<-gate
	}
}

func (f *fakeSource) gate(resource string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[resource] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeSource) count(resource string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[resource]
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) setThreads(threads ...models.Thread) {
	f.mu.Lock()
	f.threads = threads
	f.mu.Unlock()
}

func (f *fakeSource) addMessages(msgs ...models.Message) {
	f.mu.Lock()
	for _, m := range msgs {
		f.messages[m.ThreadID] = append(f.messages[m.ThreadID], m)
	}
	f.mu.Unlock()
}

func (f *fakeSource) ListThreadsForUser(_ context.Context, userID string) ([]models.Thread, error) {
	f.wait("threads")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Thread
	for _, th := range f.threads {
		if th.HasParticipant(userID) {
			out = append(out, th.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (f *fakeSource) ListMessages(_ context.Context, threadID string, limit int, before int64) (models.MessagePage, error) {
	f.wait(threadID)
	f.mu.Lock()
	defer f.mu.Unlock()
	var page models.MessagePage
	if f.err != nil {
		return page, f.err
	}
	var eligible []models.Message
	for _, m := range f.messages[threadID] {
		if before == 0 || m.Timestamp < before {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) > limit {
		page.HasMore = true
		eligible = eligible[len(eligible)-limit:]
	}
	page.Messages = append([]models.Message(nil), eligible...)
	if page.HasMore {
		page.NextBefore = page.Messages[0].Timestamp
	}
	return page, nil
}

func thread(id string, updatedAt int64, unreadForAlice int) models.Thread {
	return models.Thread{
		ID:           id,
		Subject:      "subject " + id,
		Participants: []string{"alice", "bob"},
		ParticipantNames: map[string]string{
			"alice": "Alice",
			"bob":   "Bob",
		},
		MessageType: models.MessageGeneral,
		LastMessage: models.LastMessage{ID: id + "-last", SenderID: "bob", Content: "hello", Timestamp: updatedAt},
		UnreadCount: map[string]int{"alice": unreadForAlice, "bob": 0},
		CreatedAt:   1,
		UpdatedAt:   updatedAt,
	}
}

func message(threadID, id string, ts int64) models.Message {
	return models.Message{
		ID:          id,
		ThreadID:    threadID,
		SenderID:    "bob",
		SenderName:  "Bob",
		ReceiverID:  "alice",
		Content:     "message " + id,
		Timestamp:   ts,
		MessageType: models.MessageGeneral,
		Seq:         uint64(ts),
	}
}
