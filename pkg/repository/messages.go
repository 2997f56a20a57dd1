package repository

import (
	"context"
	"encoding/json"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/readstate"
	"github.com/iwoork/homeforpup-sub006/pkg/store/keys"
	"github.com/iwoork/homeforpup-sub006/pkg/telemetry"
)

// NewMessage is the input of AppendMessage.
type NewMessage = models.NewMessage

// AppendMessage adds a reply from a participant. The message, the updated
// thread summary and both projections commit in one batch.
func (r *Repository) AppendMessage(ctx context.Context, in NewMessage) (models.Message, error) {
	tr := telemetry.Track("repo.append_message")
	defer tr.Finish()

	var msg models.Message
	if err := ctxErr(ctx); err != nil {
		return msg, err
	}
	if err := validateThreadID(in.ThreadID); err != nil {
		return msg, fail(tr, err)
	}
	if err := validateUser("sender_id", in.SenderID); err != nil {
		return msg, fail(tr, err)
	}
	if err := validateContent(in.Content); err != nil {
		return msg, fail(tr, err)
	}
	attachments, err := validateAttachments(in.Attachments)
	if err != nil {
		return msg, fail(tr, err)
	}
	if in.MessageType != "" && !in.MessageType.Valid() {
		return msg, fail(tr, apperr.Validation("unknown message type %q", in.MessageType))
	}
	if in.ReplyTo != "" {
		if err := keys.ValidateThreadID(in.ReplyTo); err != nil {
			return msg, fail(tr, apperr.Validation("reply_to: %v", err))
		}
	}

	release := r.locks.lock(in.ThreadID)
	defer release()

	th, err := r.loadThread(in.ThreadID)
	if err != nil {
		return msg, fail(tr, err)
	}
	if !th.HasParticipant(in.SenderID) {
		return msg, fail(tr, apperr.Permission(in.SenderID, in.ThreadID))
	}
	tr.Mark("load_thread")

	prevUpdatedAt := th.UpdatedAt
	senderPending := th.Unread(in.SenderID)
	receiver := th.Counterpart(in.SenderID)

	// strictly increasing within the thread so timestamp cursors are exact
	ts := r.clock()
	if ts <= th.LastMessage.Timestamp {
		ts = th.LastMessage.Timestamp + 1
	}
	mt := in.MessageType
	if mt == "" {
		mt = th.MessageType
	}
	senderName := displayName(in.SenderName, th.ParticipantNames[in.SenderID])
	senderName = displayName(senderName, in.SenderID)

	msg = models.Message{
		ID:           r.newID(),
		ThreadID:     th.ID,
		SenderID:     in.SenderID,
		SenderName:   senderName,
		ReceiverID:   receiver,
		ReceiverName: displayName(th.ParticipantNames[receiver], receiver),
		Subject:      th.Subject,
		Content:      in.Content,
		Timestamp:    ts,
		MessageType:  mt,
		Attachments:  attachments,
		ReplyTo:      in.ReplyTo,
		Seq:          th.MessageCount + 1,
	}
	if th.ParticipantNames == nil {
		th.ParticipantNames = make(map[string]string, 2)
	}
	th.ParticipantNames[in.SenderID] = senderName
	th.MessageCount = msg.Seq
	th.LastMessage = snapshot(msg)
	th.UpdatedAt = ts
	readstate.OnAppend(&th, in.SenderID)

	b := r.db.NewBatch()
	defer b.Close()
	if err := putJSON(b, keys.GenMessageKey(th.ID, msg.Timestamp, msg.Seq), msg); err != nil {
		return models.Message{}, fail(tr, storeErr("append_message", err))
	}
	if err := r.acknowledge(b, th.ID, in.SenderID, senderPending); err != nil {
		return models.Message{}, fail(tr, storeErr("append_message", err))
	}
	if err := putJSON(b, keys.GenThreadKey(th.ID), th); err != nil {
		return models.Message{}, fail(tr, storeErr("append_message", err))
	}
	if err := writeProjections(b, &th, prevUpdatedAt); err != nil {
		return models.Message{}, fail(tr, storeErr("append_message", err))
	}
	tr.Mark("build_batch")
	if err := r.db.Apply(b); err != nil {
		logger.Error("append_message_failed", "thread", th.ID, "sender", in.SenderID, "error", err)
		return models.Message{}, fail(tr, storeErr("append_message", err))
	}
	tr.Mark("apply")
	logger.Debug("message_appended", "thread", th.ID, "message", msg.ID, "seq", msg.Seq)
	return msg, nil
}

// ListMessages returns the newest limit messages older than before (all
// messages when before is zero), oldest first within the page. Each call
// is independent; NextBefore feeds the following "load earlier" call.
func (r *Repository) ListMessages(ctx context.Context, threadID string, limit int, before int64) (models.MessagePage, error) {
	tr := telemetry.Track("repo.list_messages")
	defer tr.Finish()

	var page models.MessagePage
	if err := ctxErr(ctx); err != nil {
		return page, err
	}
	if err := validateThreadID(threadID); err != nil {
		return page, fail(tr, err)
	}
	if before < 0 {
		return page, fail(tr, apperr.Validation("before must not be negative"))
	}
	if limit < 0 {
		return page, fail(tr, apperr.Validation("limit must not be negative"))
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > r.maxPage {
		limit = r.maxPage
	}
	if _, err := r.loadThread(threadID); err != nil {
		return page, fail(tr, err)
	}

	prefix := keys.GenThreadMessagesPrefix(threadID)
	upper := keys.PrefixUpperBound(prefix)
	if before > 0 {
		upper = []byte(keys.GenMessagesBefore(threadID, before))
	}
	newestFirst := make([]models.Message, 0, limit+1)
	err := r.db.Scan([]byte(prefix), upper, true, func(_, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		newestFirst = append(newestFirst, m)
		return len(newestFirst) <= limit, nil
	})
	if err != nil {
		return page, fail(tr, storeErr("list_messages", err))
	}
	if len(newestFirst) > limit {
		page.HasMore = true
		newestFirst = newestFirst[:limit]
	}
	page.Messages = make([]models.Message, len(newestFirst))
	for i, m := range newestFirst {
		page.Messages[len(newestFirst)-1-i] = m
	}
	if page.HasMore && len(page.Messages) > 0 {
		page.NextBefore = page.Messages[0].Timestamp
	}
	return page, nil
}

// AllMessages returns every message of a thread in chronological order.
func (r *Repository) AllMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validateThreadID(threadID); err != nil {
		return nil, err
	}
	var out []models.Message
	err := r.db.ScanPrefix(keys.GenThreadMessagesPrefix(threadID), false, func(_, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		out = append(out, m)
		return true, nil
	})
	if err != nil {
		return nil, storeErr("all_messages", err)
	}
	return out, nil
}
