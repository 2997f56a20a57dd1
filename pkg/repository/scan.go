package repository

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/store/keys"
	"github.com/iwoork/homeforpup-sub006/pkg/store/records"
)

// Scan walks the whole keyspace in key order and hands every decodable
// record to fn. System keys are skipped; undecodable records abort.
func (r *Repository) Scan(ctx context.Context, fn func(records.StoredRecord) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	var stop error
	err := r.db.Scan(nil, nil, false, func(k, v []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			stop = err
			return false, err
		}
		rec, err := records.Decode(k, v)
		if err != nil {
			if errors.Is(err, records.ErrUnknownRecord) {
				return true, nil
			}
			stop = err
			return false, err
		}
		if err := fn(rec); err != nil {
			stop = err
			return false, err
		}
		return true, nil
	})
	if stop != nil {
		return stop
	}
	return storeErr("scan", err)
}

// PutRecords writes authoritative records verbatim, as used by restores.
// Projection records are rejected: they are rebuilt, never copied.
func (r *Repository) PutRecords(ctx context.Context, recs []records.StoredRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	b := r.db.NewBatch()
	defer b.Close()
	for _, rec := range recs {
		if !rec.Authoritative() {
			return apperr.Validation("refusing to write derived record %s", rec.Key())
		}
		if err := validateRecord(rec); err != nil {
			return err
		}
		k, v, err := records.Encode(rec)
		if err != nil {
			return err
		}
		if err := b.Set(string(k), v); err != nil {
			return storeErr("put_records", err)
		}
	}
	if err := r.db.Apply(b); err != nil {
		return storeErr("put_records", err)
	}
	return nil
}

// RebuildProjections drops every projection and writes fresh ones from
// the authoritative threads. It returns the number of threads indexed.
func (r *Repository) RebuildProjections(ctx context.Context) (int, error) {
	var threads []models.Thread
	err := r.Scan(ctx, func(rec records.StoredRecord) error {
		switch rr := rec.(type) {
		case records.ThreadRecord:
			threads = append(threads, rr.Thread)
		case records.MessageRecord, records.ProjectionRecord:
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := b.DeletePrefix(keys.AllProjectionsPrefix); err != nil {
		return 0, storeErr("rebuild_projections", err)
	}
	for i := range threads {
		if err := writeProjections(b, &threads[i], -1); err != nil {
			return 0, storeErr("rebuild_projections", err)
		}
	}
	if err := r.db.Apply(b); err != nil {
		return 0, storeErr("rebuild_projections", err)
	}
	logger.Info("projections_rebuilt", "threads", len(threads))
	return len(threads), nil
}

// validateRecord checks that rec's ids and timestamps fit the key layout,
// so a restored record can always be parsed back by Scan.
func validateRecord(rec records.StoredRecord) error {
	switch rr := rec.(type) {
	case records.ThreadRecord:
		th := rr.Thread
		if err := validateThreadID(th.ID); err != nil {
			return err
		}
		for _, p := range th.Participants {
			if err := validateUser("participant", p); err != nil {
				return apperr.Validation("thread %s: %v", th.ID, err)
			}
		}
		if err := keys.ValidateTS(th.UpdatedAt); err != nil {
			return apperr.Validation("thread %s: %v", th.ID, err)
		}
	case records.MessageRecord:
		m := rr.Message
		if err := validateThreadID(m.ThreadID); err != nil {
			return err
		}
		if err := validateUser("sender_id", m.SenderID); err != nil {
			return apperr.Validation("message %s: %v", m.ID, err)
		}
		if err := validateUser("receiver_id", m.ReceiverID); err != nil {
			return apperr.Validation("message %s: %v", m.ID, err)
		}
		if err := keys.ValidateTS(m.Timestamp); err != nil {
			return apperr.Validation("message %s: %v", m.ID, err)
		}
		if m.Seq == 0 {
			return apperr.Validation("message %s: seq must be positive", m.ID)
		}
	}
	return nil
}
