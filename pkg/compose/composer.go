// Package compose drives new conversations and replies from the sending
// participant's side and keeps the local view in step after each write.
package compose

import (
	"context"
	"strings"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/readstate"
)

// Writer is the write side of the messaging API.
type Writer interface {
	CreateThread(ctx context.Context, in models.NewThread) (models.Thread, models.Message, error)
	AppendMessage(ctx context.Context, in models.NewMessage) (models.Message, error)
}

// Finder locates existing conversations between two users.
type Finder interface {
	FindThreadsBetween(ctx context.Context, userA, userB string) ([]models.Thread, error)
}

// View receives optimistic writes. The sync engine implements it.
type View interface {
	ApplyThread(th models.Thread)
	ApplyMessage(m models.Message)
	RefreshThreads(ctx context.Context) error
}

// Participant is a user id with the name to display for it.
type Participant struct {
	ID   string
	Name string
}

type Composer struct {
	Self   Participant
	Writer Writer
	// View and Finder are optional.
	View   View
	Finder Finder
}

// Compose starts a new thread with to. It never reuses an existing
// conversation; see ComposeOrReply.
func (c *Composer) Compose(ctx context.Context, d *Draft, to Participant, mt models.MessageType) (models.Thread, models.Message, error) {
	subject, content, err := d.begin()
	if err != nil {
		return models.Thread{}, models.Message{}, err
	}
	th, msg, err := c.Writer.CreateThread(ctx, models.NewThread{
		SenderID:     c.Self.ID,
		SenderName:   c.Self.Name,
		ReceiverID:   to.ID,
		ReceiverName: to.Name,
		Subject:      subject,
		Content:      content,
		MessageType:  mt,
	})
	d.finish(err)
	if err != nil {
		logger.Warn("compose_failed", "sender", c.Self.ID, "receiver", to.ID, "error", err)
		return models.Thread{}, models.Message{}, err
	}
	if c.View != nil {
		c.View.ApplyThread(th)
		c.View.ApplyMessage(msg)
	}
	c.refresh(ctx)
	return th, msg, nil
}

// ComposeOrReply replies in the most recent conversation with to that
// carries the draft's subject, or starts one when none does.
func (c *Composer) ComposeOrReply(ctx context.Context, d *Draft, to Participant, mt models.MessageType) (models.Thread, models.Message, error) {
	if c.Finder != nil {
		existing, err := c.Finder.FindThreadsBetween(ctx, c.Self.ID, to.ID)
		if err != nil {
			return models.Thread{}, models.Message{}, err
		}
		if th, ok := matchSubject(existing, d.Subject()); ok {
			msg, err := c.reply(ctx, d, th, nil, mt)
			if err != nil {
				return models.Thread{}, models.Message{}, err
			}
			return AfterReply(th, msg), msg, nil
		}
	}
	return c.Compose(ctx, d, to, mt)
}

// matchSubject returns the first thread, newest first, whose subject equals
// subject ignoring case and surrounding space. An empty subject only
// matches threads without one.
func matchSubject(threads []models.Thread, subject string) (models.Thread, bool) {
	want := strings.TrimSpace(subject)
	for _, th := range threads {
		if strings.EqualFold(strings.TrimSpace(th.Subject), want) {
			return th, true
		}
	}
	return models.Thread{}, false
}

// Reply appends the draft to th. recent is the message history shown to
// the user, oldest first; its newest entry resolves the counterpart when
// the thread's name map is incomplete.
func (c *Composer) Reply(ctx context.Context, d *Draft, th models.Thread, recent []models.Message) (models.Message, error) {
	return c.reply(ctx, d, th, recent, "")
}

func (c *Composer) reply(ctx context.Context, d *Draft, th models.Thread, recent []models.Message, mt models.MessageType) (models.Message, error) {
	var latest *models.Message
	if n := len(recent); n > 0 {
		latest = &recent[n-1]
	}
	to := ResolveCounterpart(th, c.Self.ID, latest)

	_, content, err := d.begin()
	if err != nil {
		return models.Message{}, err
	}
	msg, err := c.Writer.AppendMessage(ctx, models.NewMessage{
		ThreadID:    th.ID,
		SenderID:    c.Self.ID,
		SenderName:  c.Self.Name,
		Content:     content,
		MessageType: mt,
	})
	d.finish(err)
	if err != nil {
		logger.Warn("reply_failed", "thread", th.ID, "sender", c.Self.ID, "receiver", to.ID, "error", err)
		return models.Message{}, err
	}
	if msg.ReceiverName == "" {
		msg.ReceiverName = to.Name
	}
	if c.View != nil {
		c.View.ApplyMessage(msg)
		c.View.ApplyThread(AfterReply(th, msg))
	}
	c.refresh(ctx)
	return msg, nil
}

// refresh reloads every thread so badges outside the active thread are
// current. The write already succeeded; a failed refresh is only logged.
func (c *Composer) refresh(ctx context.Context) {
	if c.View == nil {
		return
	}
	if err := c.View.RefreshThreads(ctx); err != nil {
		logger.Warn("post_write_refresh_failed", "user", c.Self.ID, "error", err)
	}
}

// ResolveCounterpart finds the other participant of th from self's side.
// The thread's name map wins, then the newest message's names, then the
// raw id.
func ResolveCounterpart(th models.Thread, self string, latest *models.Message) Participant {
	id := th.Counterpart(self)
	if id == "" && latest != nil {
		if latest.SenderID != self {
			id = latest.SenderID
		} else {
			id = latest.ReceiverID
		}
	}
	p := Participant{ID: id, Name: th.ParticipantNames[id]}
	if p.Name == "" && latest != nil {
		switch id {
		case latest.SenderID:
			p.Name = latest.SenderName
		case latest.ReceiverID:
			p.Name = latest.ReceiverName
		}
	}
	if p.Name == "" && th.LastMessage.SenderID == id {
		p.Name = th.LastMessage.SenderName
	}
	if p.Name == "" {
		p.Name = id
	}
	return p
}

// AfterReply is th as the server will store it once msg is appended.
func AfterReply(th models.Thread, msg models.Message) models.Thread {
	out := th.Clone()
	out.MessageCount++
	out.LastMessage = models.LastMessage{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
		MessageType: msg.MessageType,
	}
	out.UpdatedAt = msg.Timestamp
	if out.ParticipantNames == nil {
		out.ParticipantNames = make(map[string]string, 2)
	}
	out.ParticipantNames[msg.SenderID] = msg.SenderName
	readstate.OnAppend(&out, msg.SenderID)
	return out
}
