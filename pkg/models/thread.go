package models

// LastMessage is the denormalized snapshot of a thread's newest message.
type LastMessage struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	Content     string      `json:"content"`
	Timestamp   int64       `json:"timestamp"`
	MessageType MessageType `json:"message_type"`
}

type Thread struct {
	ID               string            `json:"id"`
	Subject          string            `json:"subject"`
	Participants     []string          `json:"participants"`
	ParticipantNames map[string]string `json:"participant_names"`
	MessageType      MessageType       `json:"message_type"`
	LastMessage      LastMessage       `json:"last_message"`
	MessageCount     uint64            `json:"message_count"`
	UnreadCount      map[string]int    `json:"unread_count"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
}

func (t *Thread) HasParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not userID, or "" when
// userID is not a participant.
func (t *Thread) Counterpart(userID string) string {
	if !t.HasParticipant(userID) {
		return ""
	}
	for _, p := range t.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Unread returns the unread count for userID.
func (t *Thread) Unread(userID string) int {
	return t.UnreadCount[userID]
}

// TotalUnread sums unread counts across participants.
func (t *Thread) TotalUnread() int {
	n := 0
	for _, c := range t.UnreadCount {
		n += c
	}
	return n
}

// Clone returns a deep copy of t.
func (t Thread) Clone() Thread {
	t.Participants = append([]string(nil), t.Participants...)
	names := make(map[string]string, len(t.ParticipantNames))
	for k, v := range t.ParticipantNames {
		names[k] = v
	}
	t.ParticipantNames = names
	unread := make(map[string]int, len(t.UnreadCount))
	for k, v := range t.UnreadCount {
		unread[k] = v
	}
	t.UnreadCount = unread
	return t
}

// ThreadFilter is the search configuration. Nil fields are not applied.
type ThreadFilter struct {
	Search *string      `json:"search,omitempty"`
	Read   *bool        `json:"read,omitempty"`
	Type   *MessageType `json:"type,omitempty"`
}
