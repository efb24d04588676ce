package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/docstore"
)

func TestBuildQueryCollection(t *testing.T) {
	q := docstore.Collection("chats/c1/messages").Order("timestamp", docstore.Asc).Take(20)
	sql, args, err := buildQuery(q)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT collection, id, data, version, updated_at FROM documents WHERE collection = $1 "+
			"ORDER BY data #> $2::text[], collection, id LIMIT $3", sql)
	assert.Equal(t, []any{"chats/c1/messages", []string{"timestamp"}, 20}, args)
}

func TestBuildQueryGroupWithFilters(t *testing.T) {
	q := docstore.CollectionGroup("messages").
		Filter(docstore.Or(
			docstore.And(docstore.Eq("senderId", "u1"), docstore.Eq("receiverId", "u2")),
			docstore.And(docstore.Eq("senderId", "u2"), docstore.Eq("receiverId", "u1")),
		)).
		Order("timestamp", docstore.Desc)
	sql, args, err := buildQuery(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE coll_group = $1 AND ((data #> $2::text[] = $3::jsonb AND data #> $4::text[] = $5::jsonb) OR ")
	assert.Contains(t, sql, "ORDER BY data #> $10::text[] DESC, collection, id")
	assert.NotContains(t, sql, "LIMIT")
	assert.Equal(t, "messages", args[0])
	assert.Equal(t, `"u1"`, args[2])
}

func TestBuildQueryFilters(t *testing.T) {
	cases := []struct {
		name string
		f    docstore.Filter
		want string
	}{
		{"eq bool", docstore.Eq("isGroup", true), "data #> $2::text[] = $3::jsonb"},
		{"array contains", docstore.ArrayContains("groupInfo.members", "u1"),
			"(jsonb_typeof(data #> $2::text[]) = 'array' AND data #> $2::text[] @> $3::jsonb)"},
		{"in", docstore.In("tag", []string{"a", "b"}),
			"(data #> $2::text[] = $3::jsonb OR data #> $2::text[] = $4::jsonb)"},
		{"in empty", docstore.In("tag", []string{}), "FALSE"},
		{"string range", docstore.Gte("tag", "ale"),
			`(CASE WHEN jsonb_typeof(data #> $2::text[]) = 'string' THEN data #>> $2::text[] END) COLLATE "C" >= $3::text`},
		{"number range", docstore.Lt("lastUpdated", 5),
			"(CASE WHEN jsonb_typeof(data #> $2::text[]) = 'number' THEN (data #>> $2::text[])::float8 END) < $3::float8"},
		{"id eq", docstore.Eq(docstore.FieldID, "u1"), "id = $2"},
		{"id in", docstore.In(docstore.FieldID, []string{"u1", "u2"}), "id = ANY($2::text[])"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sql, _, err := buildQuery(docstore.Collection("users").Filter(tc.f))
			require.NoError(t, err)
			assert.Contains(t, sql, "WHERE collection = $1 AND "+tc.want+" ORDER BY")
		})
	}
}

func TestBuildQueryArgs(t *testing.T) {
	_, args, err := buildQuery(docstore.Collection("chats").Filter(docstore.ArrayContains("participants", "u1")))
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, []string{"participants"}, args[1])
	assert.Equal(t, `["u1"]`, args[2])

	_, args, err = buildQuery(docstore.Collection("users").Filter(docstore.Prefix("tag", "al")))
	require.NoError(t, err)
	assert.Equal(t, "al", args[2])
	assert.Equal(t, "al"+docstore.PrefixSuffix, args[4])
}

func TestBuildQueryRejects(t *testing.T) {
	_, _, err := buildQuery(docstore.Collection("chats/c1"))
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)

	_, _, err = buildQuery(docstore.Collection("users").Filter(docstore.Gt("flag", true)))
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)

	_, _, err = buildQuery(docstore.Collection("users").Filter(docstore.ArrayContains(docstore.FieldID, "x")))
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&pgconn.PgError{Code: "40001"}, docstore.ErrConflict},
		{&pgconn.PgError{Code: "40P01"}, docstore.ErrConflict},
		{&pgconn.PgError{Code: "23505"}, docstore.ErrAlreadyExists},
		{&pgconn.PgError{Code: "57P01"}, docstore.ErrUnavailable},
		{fmt.Errorf("wrapped: %w", docstore.ErrNotFound), docstore.ErrNotFound},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, mapErr(tc.err), tc.want, "%v", tc.err)
	}
	assert.NoError(t, mapErr(nil))

	plain := errors.New("syntax")
	assert.Equal(t, plain, mapErr(plain))
	assert.Equal(t, "unavailable", docstore.Result(mapErr(&pgconn.PgError{Code: "08006"})))
}
