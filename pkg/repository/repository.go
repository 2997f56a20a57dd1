// Package repository implements thread and message operations over the
// pebble keyspace. Every write commits as one batch holding the message,
// the thread summary and the participant projections it affects, so a
// reader never observes a summary without its message or the reverse.
package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/store"
	"github.com/iwoork/homeforpup-sub006/pkg/store/keys"
	"github.com/iwoork/homeforpup-sub006/pkg/telemetry"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 200
	MaxContentRunes    = 10000
	MaxSubjectRunes    = 200
	MaxAttachments     = 10
)

type Repository struct {
	db      *store.DB
	locks   *threadLocks
	now     func() time.Time
	newID   func() string
	maxPage int
}

type Option func(*Repository)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides thread and message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// WithMaxPageSize caps the limit accepted by ListMessages.
func WithMaxPageSize(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxPage = n
		}
	}
}

func New(db *store.DB, opts ...Option) *Repository {
	r := &Repository{
		db:      db,
		locks:   newThreadLocks(),
		now:     time.Now,
		newID:   newID,
		maxPage: DefaultMaxPageSize,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Ready reports whether the backing store is open.
func (r *Repository) Ready() bool {
	return r.db != nil && r.db.Ready()
}

func (r *Repository) clock() int64 {
	return r.now().UTC().UnixNano()
}

// storeErr classifies an error from the store layer.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	logger.Error("store_operation_failed", "op", op, "error", err)
	return apperr.Transient(op, err)
}

func fail(tr *telemetry.Trace, err error) error {
	tr.Fail(err)
	return err
}

func (r *Repository) loadThread(threadID string) (models.Thread, error) {
	var th models.Thread
	raw, err := r.db.Get(keys.GenThreadKey(threadID))
	if err != nil {
		if store.IsNotFound(err) {
			return th, apperr.NotFound("thread", threadID)
		}
		return th, storeErr("get_thread", err)
	}
	if err := json.Unmarshal(raw, &th); err != nil {
		return th, errors.Wrapf(err, "decode thread %s", threadID)
	}
	return th, nil
}

func putJSON(b *store.Batch, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, raw)
}

// writeProjections replaces every participant's projection of th. prevUpdatedAt
// is the key timestamp of the projections being replaced; pass -1 when the
// thread is new.
func writeProjections(b *store.Batch, th *models.Thread, prevUpdatedAt int64) error {
	for _, p := range th.Participants {
		if prevUpdatedAt >= 0 && prevUpdatedAt != th.UpdatedAt {
			if err := b.Delete(keys.GenProjectionKey(p, prevUpdatedAt, th.ID)); err != nil {
				return err
			}
		}
		if err := putJSON(b, keys.GenProjectionKey(p, th.UpdatedAt, th.ID), models.ProjectionFor(th, p)); err != nil {
			return err
		}
	}
	return nil
}

func deleteProjections(b *store.Batch, th *models.Thread) error {
	for _, p := range th.Participants {
		if err := b.Delete(keys.GenProjectionKey(p, th.UpdatedAt, th.ID)); err != nil {
			return err
		}
	}
	return nil
}

func validateUser(field, id string) error {
	if err := keys.ValidateUserID(id); err != nil {
		return apperr.Validation("%s: %v", field, err)
	}
	return nil
}

func validateThreadID(id string) error {
	if err := keys.ValidateThreadID(id); err != nil {
		return apperr.Validation("thread_id: %v", err)
	}
	return nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("content must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return apperr.Validation("content exceeds %d characters", MaxContentRunes)
	}
	return nil
}

func validateAttachments(att []string) ([]string, error) {
	if len(att) == 0 {
		return nil, nil
	}
	if len(att) > MaxAttachments {
		return nil, apperr.Validation("at most %d attachments allowed", MaxAttachments)
	}
	out := make([]string, 0, len(att))
	for _, a := range att {
		if strings.TrimSpace(a) == "" {
			return nil, apperr.Validation("attachment reference must not be empty")
		}
		out = append(out, a)
	}
	return out, nil
}

func displayName(name, fallback string) string {
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	return fallback
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "request cancelled")
	}
	return nil
}
