// Package mongo stores documents in a single MongoDB collection. Every
// document is wrapped in an envelope {_id, collection, group, docId, data,
// version, updatedAt}; filters address "data.<field>".
//
// Batches and transactions use multi-document transactions, so the server
// must run as a replica set.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/logger"
)

const DefaultCollection = "documents"

type envelope struct {
	ID        string    `bson:"_id"`
	Coll      string    `bson:"collection"`
	Group     string    `bson:"group"`
	DocID     string    `bson:"docId"`
	Data      bson.Raw  `bson:"data"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type Store struct {
	client *mongo.Client
	col    *mongo.Collection
	now    func() time.Time
}

func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		col:    client.Database(database).Collection(DefaultCollection),
		now:    time.Now,
	}
}

// EnsureIndexes создаёт индексы по коллекции и группе коллекций.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "docId", Value: 1}}},
		{Keys: bson.D{{Key: "group", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore indexes: %w", mapErr(err))
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func envelopeID(path, id string) string {
	return path + "/" + id
}

func (s *Store) Get(ctx context.Context, path, id string) (docstore.Document, error) {
	defer logger.DeferLogDuration("mongostore.Get", time.Now())()
	return s.get(ctx, path, id)
}

func (s *Store) get(ctx context.Context, path, id string) (docstore.Document, error) {
	var env envelope
	err := s.col.FindOne(ctx, bson.M{"_id": envelopeID(path, id)}).Decode(&env)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", path, id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("mongostore.Get: %w", mapErr(err))
	}
	return env.document()
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	defer logger.DeferLogDuration("mongostore.Query", time.Now())()
	filter, opts, err := buildFind(q)
	if err != nil {
		return nil, err
	}
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore.Query: %w", mapErr(err))
	}
	defer cur.Close(ctx)
	docs := make([]docstore.Document, 0)
	for cur.Next(ctx) {
		var env envelope
		if err := cur.Decode(&env); err != nil {
			return nil, fmt.Errorf("mongostore.Query decode: %w", err)
		}
		d, err := env.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongostore.Query: %w", mapErr(err))
	}
	return docs, nil
}

func (s *Store) Batch(ctx context.Context, ops ...docstore.Op) error {
	defer logger.DeferLogDuration("mongostore.Batch", time.Now())()
	if err := docstore.ValidateOps(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return s.inTxn(ctx, func(sc mongo.SessionContext) error {
		return s.applyOps(sc, ops, nil)
	})
}

// RunTransaction re-checks every read inside the server transaction. Existing
// documents are touched with a version-conditioned write, so a concurrent
// writer makes one of the transactions abort with a write conflict.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxnFunc) error {
	defer logger.DeferLogDuration("mongostore.RunTransaction", time.Now())()
	t := &txn{store: s, reads: make(map[string]readMark)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := docstore.ValidateOps(t.ops); err != nil {
		return err
	}
	return s.inTxn(ctx, func(sc mongo.SessionContext) error {
		keys := make([]string, 0, len(t.reads))
		for k := range t.reads {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m := t.reads[k]
			if m.version == 0 {
				n, err := s.col.CountDocuments(sc, bson.M{"_id": k})
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%s created concurrently: %w", k, docstore.ErrConflict)
				}
				continue
			}
			res, err := s.col.UpdateOne(sc,
				bson.M{"_id": k, "version": m.version},
				bson.M{"$set": bson.M{"txnCheckedAt": s.now()}})
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return fmt.Errorf("%s changed: %w", k, docstore.ErrConflict)
			}
		}
		return s.applyOps(sc, t.ops, t.reads)
	})
}

func (s *Store) inTxn(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongostore session: %w", mapErr(err))
	}
	defer sess.EndSession(context.WithoutCancel(ctx))
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			if abortErr := sess.AbortTransaction(context.WithoutCancel(ctx)); abortErr != nil {
				logger.Warnf("mongostore abort: %v", abortErr)
			}
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return mapErr(err)
}

func (s *Store) applyOps(ctx context.Context, ops []docstore.Op, reads map[string]readMark) error {
	for _, op := range ops {
		id := envelopeID(op.Path, op.ID)
		now := s.now()
		switch op.Kind {
		case docstore.OpSet:
			_, err := s.col.ReplaceOne(ctx, bson.M{"_id": id}, newEnvelope(op, now), options.Replace().SetUpsert(true))
			if err != nil {
				return err
			}
		case docstore.OpCreate:
			_, err := s.col.InsertOne(ctx, newEnvelope(op, now))
			if mongo.IsDuplicateKeyError(err) {
				if m, ok := reads[id]; ok && m.version == 0 {
					return fmt.Errorf("%s created concurrently: %w", id, docstore.ErrConflict)
				}
				return fmt.Errorf("%s: %w", id, docstore.ErrAlreadyExists)
			}
			if err != nil {
				return err
			}
		case docstore.OpUpdate:
			upd, err := updateDocument(op.Updates, now)
			if err != nil {
				return err
			}
			res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, upd)
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return fmt.Errorf("%s: %w", id, docstore.ErrNotFound)
			}
		case docstore.OpDelete:
			if _, err := s.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: op kind %d", docstore.ErrInvalidArgument, op.Kind)
		}
	}
	return nil
}

// newEnvelope stamps a fresh version from the clock, so a re-created document
// never repeats the version of its previous incarnation.
func newEnvelope(op docstore.Op, now time.Time) bson.M {
	data := op.Data
	if data == nil {
		data = map[string]any{}
	}
	return bson.M{
		"_id":        envelopeID(op.Path, op.ID),
		"collection": op.Path,
		"group":      docstore.GroupName(op.Path),
		"docId":      op.ID,
		"data":       data,
		"version":    now.UnixNano(),
		"updatedAt":  now,
	}
}

func (e envelope) document() (docstore.Document, error) {
	d := docstore.Document{Path: e.Coll, ID: e.DocID, Version: e.Version, UpdatedAt: e.UpdatedAt}
	if len(e.Data) == 0 {
		d.Data = map[string]any{}
		return d, nil
	}
	ext, err := bson.MarshalExtJSON(e.Data, false, false)
	if err != nil {
		return d, fmt.Errorf("mongostore decode %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(ext, &d.Data); err != nil {
		return d, fmt.Errorf("mongostore decode %s: %w", e.ID, err)
	}
	return d, nil
}

type readMark struct {
	version int64
}

type txn struct {
	store *Store
	reads map[string]readMark
	ops   []docstore.Op
}

func (t *txn) Get(ctx context.Context, path, id string) (docstore.Document, error) {
	doc, err := t.store.get(ctx, path, id)
	k := envelopeID(path, id)
	if _, seen := t.reads[k]; !seen {
		switch {
		case err == nil:
			t.reads[k] = readMark{version: doc.Version}
		case errors.Is(err, docstore.ErrNotFound):
			t.reads[k] = readMark{}
		}
	}
	return doc, err
}

func (t *txn) Stage(ops ...docstore.Op) {
	t.ops = append(t.ops, ops...)
}
