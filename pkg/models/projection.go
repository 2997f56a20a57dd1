package models

// Projection is the per-participant listing view of a thread. It is
// derived from the Thread and never authoritative.
type Projection struct {
	ThreadID        string      `json:"thread_id"`
	UserID          string      `json:"user_id"`
	Subject         string      `json:"subject"`
	Snippet         string      `json:"snippet"`
	Unread          int         `json:"unread"`
	UpdatedAt       int64       `json:"updated_at"`
	MessageType     MessageType `json:"message_type"`
	CounterpartID   string      `json:"counterpart_id"`
	CounterpartName string      `json:"counterpart_name"`
}

const snippetRunes = 120

// ProjectionFor builds userID's projection of t.
func ProjectionFor(t *Thread, userID string) Projection {
	other := t.Counterpart(userID)
	return Projection{
		ThreadID:        t.ID,
		UserID:          userID,
		Subject:         t.Subject,
		Snippet:         Snippet(t.LastMessage.Content),
		Unread:          t.Unread(userID),
		UpdatedAt:       t.UpdatedAt,
		MessageType:     t.MessageType,
		CounterpartID:   other,
		CounterpartName: t.ParticipantNames[other],
	}
}

// Snippet truncates content to the listing length.
func Snippet(content string) string {
	r := []rune(content)
	if len(r) <= snippetRunes {
		return content
	}
	return string(r[:snippetRunes-1]) + "…"
}
