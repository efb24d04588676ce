package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/chatcore/internal/docstore"
)

func TestBuildFindScopesAndSorts(t *testing.T) {
	filter, opts, err := buildFind(docstore.Collection("chats").Order("lastUpdated", docstore.Desc).Take(10))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"collection": "chats"}, filter)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(10), *opts.Limit)
	assert.Equal(t, bson.D{
		{Key: "data.lastUpdated", Value: -1},
		{Key: "collection", Value: 1},
		{Key: "docId", Value: 1},
	}, opts.Sort)

	filter, opts, err = buildFind(docstore.CollectionGroup("messages").Filter(docstore.Eq("senderId", "u1")))
	require.NoError(t, err)
	assert.Nil(t, opts.Limit)
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"group": "messages"},
		bson.M{"data.senderId": bson.M{"$eq": "u1"}},
	}}, filter)
}

func TestToBSON(t *testing.T) {
	got, err := toBSON(docstore.Or(
		docstore.ArrayContains("participants", "u1"),
		docstore.And(docstore.Eq("isGroup", true), docstore.ArrayContains("groupInfo.members", "u1")),
	))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"data.participants": bson.M{"$elemMatch": bson.M{"$eq": "u1"}}},
		bson.M{"$and": bson.A{
			bson.M{"data.isGroup": bson.M{"$eq": true}},
			bson.M{"data.groupInfo.members": bson.M{"$elemMatch": bson.M{"$eq": "u1"}}},
		}},
	}}, got)

	got, err = toBSON(docstore.In(docstore.FieldID, []string{"a", "b"}))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"docId": bson.M{"$in": bson.A{"a", "b"}}}, got)

	got, err = toBSON(docstore.Prefix("tag", "ale"))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"data.tag": bson.M{"$gte": "ale"}},
		bson.M{"data.tag": bson.M{"$lt": "ale" + docstore.PrefixSuffix}},
	}}, got)

	_, err = toBSON(docstore.Filter{Op: 99, Field: "x"})
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func TestUpdateDocument(t *testing.T) {
	now := time.Unix(100, 0)
	got, err := updateDocument([]docstore.FieldUpdate{
		docstore.Assign("lastMessage", map[string]any{"content": "hi"}),
		docstore.Increment("likesCount", -1),
		docstore.ArrayUnion("channelTags", "news"),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, bson.M{
		"$set": bson.M{
			"updatedAt":        now,
			"data.lastMessage": map[string]any{"content": "hi"},
		},
		"$inc":      bson.M{"version": int64(1), "data.likesCount": int64(-1)},
		"$addToSet": bson.M{"data.channelTags": bson.M{"$each": bson.A{"news"}}},
	}, got)

	got, err = updateDocument([]docstore.FieldUpdate{docstore.Assign("a", 1)}, now)
	require.NoError(t, err)
	assert.NotContains(t, got, "$addToSet")
}

func TestNewEnvelope(t *testing.T) {
	now := time.Unix(0, 42)
	env := newEnvelope(docstore.Create("chats/c1/messages", "m1", map[string]any{"content": "x"}), now)
	assert.Equal(t, "chats/c1/messages/m1", env["_id"])
	assert.Equal(t, "messages", env["group"])
	assert.Equal(t, "m1", env["docId"])
	assert.Equal(t, int64(42), env["version"])
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(mongo.ErrClientDisconnected), docstore.ErrUnavailable)

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	assert.ErrorIs(t, mapErr(dup), docstore.ErrAlreadyExists)

	conflict := mongo.CommandError{Code: 112, Labels: []string{"TransientTransactionError"}}
	assert.ErrorIs(t, mapErr(conflict), docstore.ErrConflict)

	plain := errors.New("bad")
	assert.Equal(t, plain, mapErr(plain))
}
