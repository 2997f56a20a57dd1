package maintenance

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/readstate"
	"github.com/iwoork/homeforpup-sub006/pkg/store/records"
)

type Problem struct {
	ThreadID string `json:"thread_id"`
	Detail   string `json:"detail"`
}

type Report struct {
	Threads     int       `json:"threads"`
	Messages    int       `json:"messages"`
	Projections int       `json:"projections"`
	Problems    []Problem `json:"problems"`
}

func (r Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) add(threadID, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{ThreadID: threadID, Detail: fmt.Sprintf(format, args...)})
}

// Verify walks the store and cross-checks every thread against its
// messages and its participants' projections.
func Verify(ctx context.Context, s Store) (Report, error) {
	var (
		rep      Report
		order    []string
		threads  = map[string]models.Thread{}
		messages = map[string][]models.Message{}
		projs    = map[string][]models.Projection{}
	)
	err := s.Scan(ctx, func(rec records.StoredRecord) error {
		switch r := rec.(type) {
		case records.ThreadRecord:
			rep.Threads++
			threads[r.Thread.ID] = r.Thread
			order = append(order, r.Thread.ID)
		case records.MessageRecord:
			rep.Messages++
			messages[r.Message.ThreadID] = append(messages[r.Message.ThreadID], r.Message)
		case records.ProjectionRecord:
			rep.Projections++
			projs[r.Projection.ThreadID] = append(projs[r.Projection.ThreadID], r.Projection)
		}
		return nil
	})
	if err != nil {
		return rep, errors.Wrap(err, "verify scan")
	}

	for _, id := range order {
		th := threads[id]
		msgs := messages[id]
		checkThread(&rep, &th, msgs)
		checkProjections(&rep, &th, projs[id])
	}
	for _, id := range sortedKeys(messages) {
		if _, ok := threads[id]; !ok {
			rep.add(id, "%d messages without a thread", len(messages[id]))
		}
	}
	for _, id := range sortedKeys(projs) {
		if _, ok := threads[id]; !ok {
			rep.add(id, "%d projections without a thread", len(projs[id]))
		}
	}
	logger.Info("verify_complete", "threads", rep.Threads, "messages", rep.Messages,
		"projections", rep.Projections, "problems", len(rep.Problems))
	return rep, nil
}

// msgs arrive in key order, which is timestamp order.
func checkThread(rep *Report, th *models.Thread, msgs []models.Message) {
	if th.MessageCount != uint64(len(msgs)) {
		rep.add(th.ID, "message_count is %d, %d messages stored", th.MessageCount, len(msgs))
	}
	if err := readstate.Check(th, msgs); err != nil {
		rep.add(th.ID, "%v", err)
	}
	if len(msgs) == 0 {
		rep.add(th.ID, "thread has no messages")
		return
	}
	last := msgs[len(msgs)-1]
	if th.LastMessage.ID != last.ID {
		rep.add(th.ID, "last_message is %s, newest stored message is %s", th.LastMessage.ID, last.ID)
	}
	if th.UpdatedAt != th.LastMessage.Timestamp {
		rep.add(th.ID, "updated_at %d differs from last message timestamp %d", th.UpdatedAt, th.LastMessage.Timestamp)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp <= msgs[i-1].Timestamp {
			rep.add(th.ID, "message %s is not newer than %s", msgs[i].ID, msgs[i-1].ID)
		}
	}
}

func checkProjections(rep *Report, th *models.Thread, ps []models.Projection) {
	seen := map[string]int{}
	for _, p := range ps {
		seen[p.UserID]++
		if !th.HasParticipant(p.UserID) {
			rep.add(th.ID, "projection for non-participant %s", p.UserID)
			continue
		}
		want := models.ProjectionFor(th, p.UserID)
		if p.UpdatedAt != want.UpdatedAt {
			rep.add(th.ID, "stale projection for %s: updated_at %d, thread %d", p.UserID, p.UpdatedAt, want.UpdatedAt)
		}
		if p.Unread != want.Unread {
			rep.add(th.ID, "projection for %s shows %d unread, thread %d", p.UserID, p.Unread, want.Unread)
		}
	}
	for _, u := range th.Participants {
		switch seen[u] {
		case 1:
		case 0:
			rep.add(th.ID, "missing projection for %s", u)
		default:
			rep.add(th.ID, "%d projections for %s", seen[u], u)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
