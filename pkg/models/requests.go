package models

// NewThread is the input for starting a conversation.
type NewThread struct {
	SenderID     string      `json:"sender_id"`
	SenderName   string      `json:"sender_name"`
	ReceiverID   string      `json:"receiver_id"`
	ReceiverName string      `json:"receiver_name,omitempty"`
	Subject      string      `json:"subject"`
	Content      string      `json:"content"`
	MessageType  MessageType `json:"message_type,omitempty"`
	Attachments  []string    `json:"attachments,omitempty"`
}

// NewMessage is the input for a reply. An empty MessageType inherits the
// thread's type.
type NewMessage struct {
	ThreadID    string      `json:"thread_id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type,omitempty"`
	Attachments []string    `json:"attachments,omitempty"`
	ReplyTo     string      `json:"reply_to,omitempty"`
}
