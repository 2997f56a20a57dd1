package repository

import (
	"context"
	"strings"

	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/telemetry"
)

// SearchThreads lists userID's threads and keeps those matching every set
// filter option. Search is a case-insensitive substring match against the
// subject and the last message content; an empty search string is unset.
func (r *Repository) SearchThreads(ctx context.Context, userID string, filter models.ThreadFilter) ([]models.Thread, error) {
	tr := telemetry.Track("repo.search_threads")
	defer tr.Finish()

	threads, err := r.ListThreadsForUser(ctx, userID)
	if err != nil {
		return nil, fail(tr, err)
	}
	out := make([]models.Thread, 0, len(threads))
	for i := range threads {
		if Matches(&threads[i], userID, filter) {
			out = append(out, threads[i])
		}
	}
	return out, nil
}

// Matches applies filter to th from userID's point of view.
func Matches(th *models.Thread, userID string, filter models.ThreadFilter) bool {
	if filter.Search != nil && *filter.Search != "" {
		needle := strings.ToLower(*filter.Search)
		if !strings.Contains(strings.ToLower(th.Subject), needle) &&
			!strings.Contains(strings.ToLower(th.LastMessage.Content), needle) {
			return false
		}
	}
	if filter.Read != nil {
		read := th.Unread(userID) == 0
		if read != *filter.Read {
			return false
		}
	}
	if filter.Type != nil {
		if th.MessageType != *filter.Type && th.LastMessage.MessageType != *filter.Type {
			return false
		}
	}
	return true
}
