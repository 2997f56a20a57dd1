// Package records decodes raw keyspace entries into a closed set of
// record kinds. Code that walks the keyspace switches on StoredRecord and
// has to decide what to do with projections explicitly.
package records

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/store/keys"
)

// ErrUnknownRecord is returned for keys outside the record keyspace.
var ErrUnknownRecord = errors.New("unknown record kind")

// StoredRecord is one of ThreadRecord, MessageRecord or ProjectionRecord.
type StoredRecord interface {
	Key() string
	// Authoritative is false for derived records that must never be
	// written back as source data.
	Authoritative() bool
	sealed()
}

type ThreadRecord struct {
	Thread models.Thread
}

type MessageRecord struct {
	Message models.Message
}

type ProjectionRecord struct {
	Projection models.Projection
}

func (r ThreadRecord) Key() string { return keys.GenThreadKey(r.Thread.ID) }
func (r MessageRecord) Key() string {
	return keys.GenMessageKey(r.Message.ThreadID, r.Message.Timestamp, r.Message.Seq)
}
func (r ProjectionRecord) Key() string {
	return keys.GenProjectionKey(r.Projection.UserID, r.Projection.UpdatedAt, r.Projection.ThreadID)
}

func (ThreadRecord) Authoritative() bool     { return true }
func (MessageRecord) Authoritative() bool    { return true }
func (ProjectionRecord) Authoritative() bool { return false }

func (ThreadRecord) sealed()     {}
func (MessageRecord) sealed()    {}
func (ProjectionRecord) sealed() {}

// Decode classifies key and unmarshals value into the matching record.
// System keys and unrecognized keys return ErrUnknownRecord.
func Decode(key, value []byte) (StoredRecord, error) {
	parts, err := keys.ParseKey(string(key))
	if err != nil {
		return nil, errors.Mark(err, ErrUnknownRecord)
	}
	switch parts.Type {
	case keys.KeyTypeThread:
		var th models.Thread
		if err := json.Unmarshal(value, &th); err != nil {
			return nil, errors.Wrapf(err, "decode thread %s", key)
		}
		if th.ID != parts.ThreadID {
			return nil, errors.Newf("thread record %s carries id %q", key, th.ID)
		}
		return ThreadRecord{Thread: th}, nil
	case keys.KeyTypeMessage:
		var m models.Message
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, errors.Wrapf(err, "decode message %s", key)
		}
		if m.ThreadID != parts.ThreadID {
			return nil, errors.Newf("message record %s carries thread %q", key, m.ThreadID)
		}
		return MessageRecord{Message: m}, nil
	case keys.KeyTypeProjection:
		var p models.Projection
		if err := json.Unmarshal(value, &p); err != nil {
			return nil, errors.Wrapf(err, "decode projection %s", key)
		}
		return ProjectionRecord{Projection: p}, nil
	}
	return nil, errors.Wrapf(ErrUnknownRecord, "%s", key)
}

// Encode marshals r into its key and value.
func Encode(r StoredRecord) ([]byte, []byte, error) {
	var (
		v   []byte
		err error
	)
	switch rec := r.(type) {
	case ThreadRecord:
		v, err = json.Marshal(rec.Thread)
	case MessageRecord:
		v, err = json.Marshal(rec.Message)
	case ProjectionRecord:
		v, err = json.Marshal(rec.Projection)
	default:
		return nil, nil, errors.Newf("unsupported record %T", r)
	}
	if err != nil {
		return nil, nil, err
	}
	return []byte(r.Key()), v, nil
}
