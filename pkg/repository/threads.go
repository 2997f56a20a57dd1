package repository

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/readstate"
	"github.com/iwoork/homeforpup-sub006/pkg/store"
	"github.com/iwoork/homeforpup-sub006/pkg/store/keys"
	"github.com/iwoork/homeforpup-sub006/pkg/telemetry"
)

// NewThread is the input of CreateThread.
type NewThread = models.NewThread

// CreateThread creates a thread between sender and receiver together with
// its first message. It never looks for an existing thread between the
// pair; see FindThreadsBetween.
func (r *Repository) CreateThread(ctx context.Context, in NewThread) (models.Thread, models.Message, error) {
	tr := telemetry.Track("repo.create_thread")
	defer tr.Finish()

	var (
		th  models.Thread
		msg models.Message
	)
	if err := ctxErr(ctx); err != nil {
		return th, msg, err
	}
	if err := validateUser("sender_id", in.SenderID); err != nil {
		return th, msg, fail(tr, err)
	}
	if err := validateUser("receiver_id", in.ReceiverID); err != nil {
		return th, msg, fail(tr, err)
	}
	if in.SenderID == in.ReceiverID {
		return th, msg, fail(tr, apperr.Validation("cannot send a message to yourself"))
	}
	if err := validateContent(in.Content); err != nil {
		return th, msg, fail(tr, err)
	}
	subject := strings.TrimSpace(in.Subject)
	if utf8.RuneCountInString(subject) > MaxSubjectRunes {
		return th, msg, fail(tr, apperr.Validation("subject exceeds %d characters", MaxSubjectRunes))
	}
	mt, ok := models.ParseMessageType(string(in.MessageType))
	if !ok {
		return th, msg, fail(tr, apperr.Validation("unknown message type %q", in.MessageType))
	}
	attachments, err := validateAttachments(in.Attachments)
	if err != nil {
		return th, msg, fail(tr, err)
	}

	now := r.clock()
	threadID := r.newID()
	senderName := displayName(in.SenderName, in.SenderID)
	receiverName := displayName(in.ReceiverName, in.ReceiverID)

	msg = models.Message{
		ID:           r.newID(),
		ThreadID:     threadID,
		SenderID:     in.SenderID,
		SenderName:   senderName,
		ReceiverID:   in.ReceiverID,
		ReceiverName: receiverName,
		Subject:      subject,
		Content:      in.Content,
		Timestamp:    now,
		MessageType:  mt,
		Attachments:  attachments,
		Seq:          1,
	}
	th = models.Thread{
		ID:           threadID,
		Subject:      subject,
		Participants: []string{in.SenderID, in.ReceiverID},
		ParticipantNames: map[string]string{
			in.SenderID:   senderName,
			in.ReceiverID: receiverName,
		},
		MessageType:  mt,
		LastMessage:  snapshot(msg),
		MessageCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	readstate.Reset(&th)
	readstate.OnAppend(&th, in.SenderID)

	release := r.locks.lock(threadID)
	defer release()
	tr.Mark("build")

	b := r.db.NewBatch()
	defer b.Close()
	if err := putJSON(b, keys.GenMessageKey(threadID, msg.Timestamp, msg.Seq), msg); err != nil {
		return models.Thread{}, models.Message{}, fail(tr, storeErr("create_thread", err))
	}
	if err := putJSON(b, keys.GenThreadKey(threadID), th); err != nil {
		return models.Thread{}, models.Message{}, fail(tr, storeErr("create_thread", err))
	}
	if err := writeProjections(b, &th, -1); err != nil {
		return models.Thread{}, models.Message{}, fail(tr, storeErr("create_thread", err))
	}
	if err := r.db.Apply(b); err != nil {
		logger.Error("create_thread_failed", "thread", threadID, "error", err)
		return models.Thread{}, models.Message{}, fail(tr, storeErr("create_thread", err))
	}
	tr.Mark("apply")
	logger.Info("thread_created", "thread", threadID, "sender", in.SenderID, "receiver", in.ReceiverID, "type", mt)
	return th, msg, nil
}

func snapshot(m models.Message) models.LastMessage {
	return models.LastMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		MessageType: m.MessageType,
	}
}

// GetThread loads the authoritative thread record.
func (r *Repository) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	if err := ctxErr(ctx); err != nil {
		return models.Thread{}, err
	}
	if err := validateThreadID(threadID); err != nil {
		return models.Thread{}, err
	}
	return r.loadThread(threadID)
}

// GetThreadFor loads a thread on behalf of userID, who must be a participant.
func (r *Repository) GetThreadFor(ctx context.Context, threadID, userID string) (models.Thread, error) {
	th, err := r.GetThread(ctx, threadID)
	if err != nil {
		return th, err
	}
	if !th.HasParticipant(userID) {
		return models.Thread{}, apperr.Permission(userID, threadID)
	}
	return th, nil
}

// MarkThreadRead clears userID's unread counter and flags the messages
// addressed to them as read. Calling it again is a no-op.
func (r *Repository) MarkThreadRead(ctx context.Context, threadID, userID string) error {
	tr := telemetry.Track("repo.mark_thread_read")
	defer tr.Finish()

	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := validateThreadID(threadID); err != nil {
		return fail(tr, err)
	}
	if err := validateUser("user_id", userID); err != nil {
		return fail(tr, err)
	}

	release := r.locks.lock(threadID)
	defer release()

	th, err := r.loadThread(threadID)
	if err != nil {
		return fail(tr, err)
	}
	if !th.HasParticipant(userID) {
		return fail(tr, apperr.Permission(userID, threadID))
	}
	pending := th.Unread(userID)
	if pending == 0 {
		return nil
	}
	tr.Mark("load_thread")

	b := r.db.NewBatch()
	defer b.Close()
	if err := r.acknowledge(b, threadID, userID, pending); err != nil {
		return fail(tr, storeErr("mark_thread_read", err))
	}
	readstate.OnRead(&th, userID)
	if err := putJSON(b, keys.GenThreadKey(threadID), th); err != nil {
		return fail(tr, storeErr("mark_thread_read", err))
	}
	if err := writeProjections(b, &th, th.UpdatedAt); err != nil {
		return fail(tr, storeErr("mark_thread_read", err))
	}
	if err := r.db.Apply(b); err != nil {
		logger.Error("mark_thread_read_failed", "thread", threadID, "user", userID, "error", err)
		return fail(tr, storeErr("mark_thread_read", err))
	}
	tr.Mark("apply")
	logger.Debug("thread_marked_read", "thread", threadID, "user", userID, "cleared", pending)
	return nil
}

// acknowledge adds read-flag updates for up to pending unread messages
// addressed to userID, scanning from the newest message backwards.
func (r *Repository) acknowledge(b *store.Batch, threadID, userID string, pending int) error {
	if pending <= 0 {
		return nil
	}
	var updates []models.Message
	err := r.db.ScanPrefix(keys.GenThreadMessagesPrefix(threadID), true, func(_, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		if m.AddressedTo(userID) && !m.Read {
			updates = append(updates, m)
		}
		return len(updates) < pending, nil
	})
	if err != nil {
		return err
	}
	changed := readstate.Acknowledge(updates, userID)
	for _, i := range changed {
		m := updates[i]
		if err := putJSON(b, keys.GenMessageKey(threadID, m.Timestamp, m.Seq), m); err != nil {
			return err
		}
	}
	return nil
}

// DeleteThread removes a thread, all of its messages and its projections.
// Deleting a missing thread succeeds.
func (r *Repository) DeleteThread(ctx context.Context, threadID string) error {
	tr := telemetry.Track("repo.delete_thread")
	defer tr.Finish()

	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := validateThreadID(threadID); err != nil {
		return fail(tr, err)
	}

	release := r.locks.lock(threadID)
	defer release()

	th, err := r.loadThread(threadID)
	exists := true
	if err != nil {
		if !apperr.IsNotFound(err) {
			return fail(tr, err)
		}
		exists = false
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := b.DeletePrefix(keys.GenThreadMessagesPrefix(threadID)); err != nil {
		return fail(tr, storeErr("delete_thread", err))
	}
	if exists {
		if err := deleteProjections(b, &th); err != nil {
			return fail(tr, storeErr("delete_thread", err))
		}
		if err := b.Delete(keys.GenThreadKey(threadID)); err != nil {
			return fail(tr, storeErr("delete_thread", err))
		}
	}
	if err := r.db.Apply(b); err != nil {
		logger.Error("delete_thread_failed", "thread", threadID, "error", err)
		return fail(tr, storeErr("delete_thread", err))
	}
	if exists {
		logger.Info("thread_deleted", "thread", threadID, "messages", th.MessageCount)
	}
	return nil
}

// ListProjections returns userID's thread listing entries, newest first.
func (r *Repository) ListProjections(ctx context.Context, userID string) ([]models.Projection, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validateUser("user_id", userID); err != nil {
		return nil, err
	}
	var out []models.Projection
	seen := make(map[string]bool)
	err := r.db.ScanPrefix(keys.GenUserProjectionPrefix(userID), true, func(k, v []byte) (bool, error) {
		var p models.Projection
		if err := json.Unmarshal(v, &p); err != nil {
			logger.Warn("projection_decode_failed", "key", string(k), "error", err)
			return true, nil
		}
		if seen[p.ThreadID] {
			return true, nil
		}
		seen[p.ThreadID] = true
		out = append(out, p)
		return true, nil
	})
	if err != nil {
		return nil, storeErr("list_projections", err)
	}
	return out, nil
}

// ListThreadsForUser returns the authoritative threads userID takes part
// in, newest updatedAt first. Projections only drive the ordering.
func (r *Repository) ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error) {
	tr := telemetry.Track("repo.list_threads_for_user")
	defer tr.Finish()

	projections, err := r.ListProjections(ctx, userID)
	if err != nil {
		return nil, fail(tr, err)
	}
	tr.Mark("scan_projections")

	threads := make([]models.Thread, 0, len(projections))
	for _, p := range projections {
		th, err := r.loadThread(p.ThreadID)
		if err != nil {
			if apperr.IsNotFound(err) {
				logger.Warn("stale_projection", "user", userID, "thread", p.ThreadID)
				continue
			}
			return nil, fail(tr, err)
		}
		if !th.HasParticipant(userID) {
			logger.Warn("projection_for_non_participant", "user", userID, "thread", p.ThreadID)
			continue
		}
		threads = append(threads, th)
	}
	tr.Mark("load_threads")
	return threads, nil
}

// FindThreadsBetween returns the threads shared by userA and userB, newest
// first. Callers use it to reuse a conversation instead of forking one.
func (r *Repository) FindThreadsBetween(ctx context.Context, userA, userB string) ([]models.Thread, error) {
	if err := validateUser("user_id", userB); err != nil {
		return nil, err
	}
	threads, err := r.ListThreadsForUser(ctx, userA)
	if err != nil {
		return nil, err
	}
	out := threads[:0]
	for _, th := range threads {
		if th.Counterpart(userA) == userB {
			out = append(out, th)
		}
	}
	return out, nil
}

// UnreadTotal is the badge count for userID. It is derived from the
// user's projections on every call and never stored.
func (r *Repository) UnreadTotal(ctx context.Context, userID string) (int, error) {
	projections, err := r.ListProjections(ctx, userID)
	if err != nil {
		return 0, err
	}
	return readstate.TotalProjections(projections), nil
}
