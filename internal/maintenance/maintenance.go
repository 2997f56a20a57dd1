// Package maintenance holds offline tooling over a messaging store: JSON
// lines export and import, consistency verification and projection
// rebuilds.
package maintenance

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/store/records"
)

const (
	kindThread     = "thread"
	kindMessage    = "message"
	kindProjection = "projection"

	importBatch   = 500
	maxLineBytes  = 4 << 20
	initLineBytes = 64 << 10
)

// Store is the subset of the repository the tools run against.
type Store interface {
	Scan(ctx context.Context, fn func(records.StoredRecord) error) error
	PutRecords(ctx context.Context, recs []records.StoredRecord) error
	RebuildProjections(ctx context.Context) (int, error)
}

// line is one export record.
type line struct {
	Kind       string          `json:"kind"`
	Thread     *models.Thread  `json:"thread,omitempty"`
	Message    *models.Message `json:"message,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
}

type Counts struct {
	Threads  int `json:"threads"`
	Messages int `json:"messages"`
	// Skipped counts projections left out of an export.
	Skipped int `json:"skipped"`
}

// Export writes every thread and message as one JSON object per line.
// Projections are derived and are not exported.
func Export(ctx context.Context, s Store, w io.Writer) (Counts, error) {
	var c Counts
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	err := s.Scan(ctx, func(rec records.StoredRecord) error {
		switch r := rec.(type) {
		case records.ThreadRecord:
			th := r.Thread
			c.Threads++
			return enc.Encode(line{Kind: kindThread, Thread: &th})
		case records.MessageRecord:
			m := r.Message
			c.Messages++
			return enc.Encode(line{Kind: kindMessage, Message: &m})
		case records.ProjectionRecord:
			c.Skipped++
		}
		return nil
	})
	if err != nil {
		return c, errors.Wrap(err, "export")
	}
	if err := bw.Flush(); err != nil {
		return c, errors.Wrap(err, "flush export")
	}
	logger.Info("export_complete", "threads", c.Threads, "messages", c.Messages, "projections_skipped", c.Skipped)
	return c, nil
}

// Import restores an export and rebuilds projections afterwards. Lines
// carrying projections are rejected. When a line fails after earlier
// batches were committed, projections are still rebuilt so the threads
// already written stay listable.
func Import(ctx context.Context, s Store, r io.Reader) (c Counts, err error) {
	committed := false
	defer func() {
		if err == nil || !committed {
			return
		}
		if _, rerr := s.RebuildProjections(context.WithoutCancel(ctx)); rerr != nil {
			logger.Error("import_rebuild_failed", "error", rerr)
			err = errors.CombineErrors(err, errors.Wrap(rerr, "rebuild projections after failed import"))
			return
		}
		logger.Warn("import_partial", "threads", c.Threads, "messages", c.Messages, "error", err)
	}()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initLineBytes), maxLineBytes)

	pending := make([]records.StoredRecord, 0, importBatch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.PutRecords(ctx, pending); err != nil {
			return err
		}
		committed = true
		pending = pending[:0]
		return nil
	}

	n := 0
	for sc.Scan() {
		n++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			return c, apperr.Validation("line %d: %v", n, err)
		}
		switch {
		case l.Kind == kindThread && l.Thread != nil:
			pending = append(pending, records.ThreadRecord{Thread: *l.Thread})
			c.Threads++
		case l.Kind == kindMessage && l.Message != nil:
			pending = append(pending, records.MessageRecord{Message: *l.Message})
			c.Messages++
		case l.Kind == kindProjection:
			return c, apperr.Validation("line %d: projections are derived and cannot be imported", n)
		default:
			return c, apperr.Validation("line %d: unknown record kind %q", n, l.Kind)
		}
		if len(pending) >= importBatch {
			if err := flush(); err != nil {
				return c, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return c, errors.Wrapf(err, "read line %d", n+1)
	}
	if err := flush(); err != nil {
		return c, err
	}
	committed = false
	if _, err := s.RebuildProjections(ctx); err != nil {
		return c, errors.Wrap(err, "rebuild projections after import")
	}
	logger.Info("import_complete", "threads", c.Threads, "messages", c.Messages)
	return c, nil
}

// Reindex drops every projection and rebuilds them from threads.
func Reindex(ctx context.Context, s Store) (int, error) {
	return s.RebuildProjections(ctx)
}
