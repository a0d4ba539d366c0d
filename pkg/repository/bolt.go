package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.etcd.io/bbolt"

	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/utils/logging"
)

var (
	bucketConversations = []byte("conversations")
	bucketTurns         = []byte("turns")
	bucketRecords       = []byte("records")
)

// Bolt is a single-file repository backed by bbolt. Conversations live as
// JSON values keyed by ID; turns and execution records live in one nested
// bucket per conversation, keyed by an insertion sequence so iteration order
// is chronological.
type Bolt struct {
	db *bbolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open bolt database", goerr.V("path", path))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketTurns, bucketRecords} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare bolt buckets")
	}
	return &Bolt{db: db}, nil
}

func (r *Bolt) Close() error {
	return r.db.Close()
}

func (r *Bolt) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal conversation")
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte(conv.ID), raw)
	})
}

func (r *Bolt) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	var conv *model.Conversation
	err := r.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketConversations).Get([]byte(id))
		if raw == nil {
			return goerr.Wrap(model.ErrConversationNotFound, "conversation not found", goerr.V("id", id))
		}
		var decoded model.Conversation
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return goerr.Wrap(err, "failed to unmarshal conversation", goerr.V("id", id))
		}
		conv = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *Bolt) ListConversations(ctx context.Context, owner string) ([]*model.Conversation, error) {
	var out []*model.Conversation
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var conv model.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				// Tolerate damaged values instead of failing the whole list.
				logging.From(ctx).Warn("skipping unreadable conversation", "key", string(k))
				return nil
			}
			if owner != "" && conv.Owner != owner {
				return nil
			}
			out = append(out, &conv)
			return nil
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations")
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *Bolt) DeleteConversation(ctx context.Context, id model.ConversationID) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		conversations := tx.Bucket(bucketConversations)
		if conversations.Get([]byte(id)) == nil {
			return goerr.Wrap(model.ErrConversationNotFound, "conversation not found", goerr.V("id", id))
		}
		if err := conversations.Delete([]byte(id)); err != nil {
			return err
		}
		for _, parent := range [][]byte{bucketTurns, bucketRecords} {
			bucket := tx.Bucket(parent)
			if bucket.Bucket([]byte(id)) == nil {
				continue
			}
			if err := bucket.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Bolt) SaveTurn(ctx context.Context, turn *model.Turn) error {
	raw, err := json.Marshal(turn)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal turn")
	}
	return r.appendValue(bucketTurns, turn.ConversationID, raw)
}

func (r *Bolt) ListTurns(ctx context.Context, id model.ConversationID, limit int) ([]*model.Turn, error) {
	var out []*model.Turn
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTurns).Bucket([]byte(id))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var turn model.Turn
			if err := json.Unmarshal(v, &turn); err != nil {
				logging.From(ctx).Warn("skipping unreadable turn", "conversation", string(id))
				return nil
			}
			out = append(out, &turn)
			return nil
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list turns")
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *Bolt) SaveRecord(ctx context.Context, record *model.ExecutionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal execution record")
	}
	return r.appendValue(bucketRecords, record.ConversationID, raw)
}

func (r *Bolt) ListRecords(ctx context.Context, id model.ConversationID) ([]*model.ExecutionRecord, error) {
	var out []*model.ExecutionRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords).Bucket([]byte(id))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var record model.ExecutionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				logging.From(ctx).Warn("skipping unreadable execution record", "conversation", string(id))
				return nil
			}
			out = append(out, &record)
			return nil
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list execution records")
	}
	return out, nil
}

// appendValue stores raw under the next sequence key of the conversation's
// nested bucket. Big-endian sequence keys keep byte order equal to insertion
// order.
func (r *Bolt) appendValue(parent []byte, id model.ConversationID, raw []byte) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket(parent).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return goerr.Wrap(err, "failed to open conversation bucket")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return goerr.Wrap(err, "failed to allocate sequence")
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, raw)
	})
}
