// Package readstate owns every change to a thread's unread counters. The
// repository calls into it while building a write batch so counters and
// message read flags always commit together.
package readstate

import (
	"fmt"

	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

// Reset initialises unread counters to zero for exactly the participants.
func Reset(t *models.Thread) {
	t.UnreadCount = make(map[string]int, len(t.Participants))
	for _, p := range t.Participants {
		t.UnreadCount[p] = 0
	}
}

// OnAppend records a new message from senderID: every other participant
// gains one unread message and the sender's counter is cleared, since
// replying implies the sender has seen the thread.
func OnAppend(t *models.Thread, senderID string) {
	if t.UnreadCount == nil {
		Reset(t)
	}
	for _, p := range t.Participants {
		if p == senderID {
			t.UnreadCount[p] = 0
			continue
		}
		t.UnreadCount[p]++
	}
}

// OnRead clears userID's counter. It reports whether anything changed.
func OnRead(t *models.Thread, userID string) bool {
	if t.UnreadCount == nil {
		Reset(t)
	}
	if t.UnreadCount[userID] == 0 {
		return false
	}
	t.UnreadCount[userID] = 0
	return true
}

// Acknowledge flags every unread message addressed to userID as read and
// returns the indexes that changed.
func Acknowledge(msgs []models.Message, userID string) []int {
	var changed []int
	for i := range msgs {
		if msgs[i].AddressedTo(userID) && !msgs[i].Read {
			msgs[i].Read = true
			changed = append(changed, i)
		}
	}
	return changed
}

// Total is the badge value: unread messages for userID across threads.
func Total(threads []models.Thread, userID string) int {
	n := 0
	for i := range threads {
		n += threads[i].Unread(userID)
	}
	return n
}

// TotalProjections sums the unread field of a user's projections.
func TotalProjections(ps []models.Projection) int {
	n := 0
	for _, p := range ps {
		n += p.Unread
	}
	return n
}

// Check verifies counters against the persisted messages of t: keys are
// exactly the participants, nothing is negative, and each participant's
// counter equals the unread messages addressed to them.
func Check(t *models.Thread, msgs []models.Message) error {
	if len(t.UnreadCount) != len(t.Participants) {
		return fmt.Errorf("thread %s: unread keys %v do not match participants %v", t.ID, t.UnreadCount, t.Participants)
	}
	want := make(map[string]int, len(t.Participants))
	for _, p := range t.Participants {
		if _, ok := t.UnreadCount[p]; !ok {
			return fmt.Errorf("thread %s: participant %s missing from unread counts", t.ID, p)
		}
		want[p] = 0
	}
	for _, m := range msgs {
		if !m.Read {
			if _, ok := want[m.ReceiverID]; !ok {
				return fmt.Errorf("thread %s: message %s addressed to non-participant %s", t.ID, m.ID, m.ReceiverID)
			}
			want[m.ReceiverID]++
		}
	}
	for p, n := range t.UnreadCount {
		if n < 0 {
			return fmt.Errorf("thread %s: negative unread count for %s", t.ID, p)
		}
		if want[p] != n {
			return fmt.Errorf("thread %s: unread count for %s is %d, %d unread messages addressed", t.ID, p, n, want[p])
		}
	}
	return nil
}
