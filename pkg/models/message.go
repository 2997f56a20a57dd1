package models

// MessageType is the categorical tag carried by messages and threads.
type MessageType string

const (
	MessageGeneral  MessageType = "general"
	MessageInquiry  MessageType = "inquiry"
	MessageBusiness MessageType = "business"
	MessageUrgent   MessageType = "urgent"
)

var messageTypes = map[MessageType]bool{
	MessageGeneral:  true,
	MessageInquiry:  true,
	MessageBusiness: true,
	MessageUrgent:   true,
}

// ParseMessageType validates s. An empty string yields MessageGeneral.
func ParseMessageType(s string) (MessageType, bool) {
	if s == "" {
		return MessageGeneral, true
	}
	mt := MessageType(s)
	return mt, messageTypes[mt]
}

func (t MessageType) Valid() bool { return messageTypes[t] }

type Message struct {
	ID           string `json:"id"`
	ThreadID     string `json:"thread_id"`
	SenderID     string `json:"sender_id"`
	SenderName   string `json:"sender_name"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`
	Subject      string `json:"subject,omitempty"`
	Content      string `json:"content"`
	// Timestamp is unix nanoseconds, non-decreasing within a thread.
	Timestamp   int64       `json:"timestamp"`
	Read        bool        `json:"read"`
	MessageType MessageType `json:"message_type"`
	Attachments []string    `json:"attachments,omitempty"`
	ReplyTo     string      `json:"reply_to,omitempty"`
	// Seq is the 1-based ordinal of the message within its thread.
	Seq uint64 `json:"seq"`
}

// AddressedTo reports whether userID is the receiver.
func (m Message) AddressedTo(userID string) bool {
	return m.ReceiverID == userID
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]string(nil), m.Attachments...)
	}
	return m
}

// MessagePage is one page of a thread's history, oldest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	// NextBefore is the cursor for loading the page before this one; zero
	// when there are no earlier messages.
	NextBefore int64 `json:"next_before,omitempty"`
}
