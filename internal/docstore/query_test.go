package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(path, id string, data map[string]any) Document {
	d, err := ToData(data)
	if err != nil {
		panic(err)
	}
	return Document{Path: path, ID: id, Data: d}
}

func TestFilterMatch(t *testing.T) {
	d := doc("users", "u1", map[string]any{
		"phoneNumber": "+100",
		"tag":         "alexander",
		"age":         30,
		"channelTags": []string{"news", "sport"},
		"groupInfo":   map[string]any{"members": []string{"u1", "u2"}},
	})

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"zero matches all", Filter{}, true},
		{"eq string", Eq("phoneNumber", "+100"), true},
		{"eq int vs float", Eq("age", 30), true},
		{"eq missing field", Eq("lastName", "x"), false},
		{"in", In("tag", []string{"boris", "alexander"}), true},
		{"in empty", In("tag", []string{}), false},
		{"array contains", ArrayContains("channelTags", "news"), true},
		{"array contains miss", ArrayContains("channelTags", "music"), false},
		{"array contains on non-array", ArrayContains("tag", "alexander"), false},
		{"dotted path", ArrayContains("groupInfo.members", "u2"), true},
		{"prefix", Prefix("tag", "alex"), true},
		{"prefix miss", Prefix("tag", "alexey"), false},
		{"range number", And(Gt("age", 18), Lte("age", 30)), true},
		{"range type mismatch", Gt("age", "10"), false},
		{"id eq", Eq(FieldID, "u1"), true},
		{"or", Or(Eq("tag", "nobody"), Eq("phoneNumber", "+100")), true},
		{"and", And(Eq("tag", "alexander"), Eq("phoneNumber", "+999")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Match(d))
		})
	}
}

func TestCombineDropsZeroAndUnwraps(t *testing.T) {
	f := And(Filter{}, Eq("a", "b"))
	assert.Equal(t, FilterEq, f.Op)
	assert.True(t, And().IsZero())
	assert.True(t, Or(Filter{}, Filter{}).IsZero())

	q := Collection("users").Filter(Eq("a", 1)).Filter(Eq("b", 2))
	assert.Equal(t, FilterAnd, q.Where.Op)
	assert.Len(t, q.Where.Sub, 2)
}

func TestQueryValidate(t *testing.T) {
	assert.NoError(t, Collection("users").Validate())
	assert.NoError(t, Collection("chats/c1/messages").Validate())
	assert.NoError(t, CollectionGroup("messages").Validate())

	for _, q := range []Query{
		Collection(""),
		Collection("chats/c1"),
		Collection("chats//messages"),
		CollectionGroup("chats/c1/messages"),
		Collection("users").Take(-1),
		Collection("users").Order("", Asc),
		Collection("users").Filter(Eq("", 1)),
	} {
		err := q.Validate()
		assert.ErrorIs(t, err, ErrInvalidArgument, "query %+v", q)
	}
}

func TestQueryCovers(t *testing.T) {
	assert.True(t, Collection("users").Covers("users"))
	assert.False(t, Collection("users").Covers("channels"))
	assert.True(t, CollectionGroup("messages").Covers("chats/c1/messages"))
	assert.True(t, CollectionGroup("messages").Covers("messages"))
	assert.False(t, CollectionGroup("messages").Covers("chats"))
}

func TestEvaluateOrdersAndLimits(t *testing.T) {
	docs := []Document{
		doc("chats", "a", map[string]any{"lastUpdated": 10}),
		doc("chats", "b", map[string]any{"lastUpdated": 30}),
		doc("chats", "c", map[string]any{"lastUpdated": 20}),
		doc("chats", "d", map[string]any{}),
		doc("chats", "e", map[string]any{"lastUpdated": 30}),
	}
	got := Evaluate(docs, Collection("chats").Order("lastUpdated", Desc).Take(4))
	ids := make([]string, 0, len(got))
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	// равные значения упорядочены по ключу, отсутствующее поле: в конце при DESC
	assert.Equal(t, []string{"b", "e", "c", "a"}, ids)

	got = Evaluate(docs, Collection("chats").Order("lastUpdated", Asc))
	require.Len(t, got, 5)
	assert.Equal(t, "d", got[0].ID)
}

func TestApplyUpdates(t *testing.T) {
	data, err := ToData(map[string]any{
		"count": 1,
		"tags":  []string{"a"},
		"info":  map[string]any{"name": "x"},
	})
	require.NoError(t, err)

	out, err := ApplyUpdates(data, []FieldUpdate{
		Increment("count", 2),
		Increment("missing", -1),
		ArrayUnion("tags", "a", "b"),
		ArrayUnion("fresh", "z"),
		Assign("info.name", "y"),
		Assign("info.extra", map[string]any{"k": 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, float64(-1), out["missing"])
	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, []any{"z"}, out["fresh"])
	info := out["info"].(map[string]any)
	assert.Equal(t, "y", info["name"])
	assert.Equal(t, map[string]any{"k": float64(1)}, info["extra"])

	// исходные данные не меняются
	assert.Equal(t, float64(1), data["count"])
	assert.Equal(t, []any{"a"}, data["tags"])

	_, err = ApplyUpdates(data, []FieldUpdate{Increment("tags", 1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ApplyUpdates(data, []FieldUpdate{ArrayUnion("count", 1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ApplyUpdates(data, []FieldUpdate{Assign(FieldID, 1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValidateOps(t *testing.T) {
	assert.NoError(t, ValidateOps([]Op{
		Set("users", "u1", map[string]any{"a": 1}),
		IncrementOp("channels/c1/posts", "p1", "likesCount", 1),
		Delete("reactions", "r1"),
	}))
	assert.ErrorIs(t, ValidateOps([]Op{Set("users/u1", "x", map[string]any{})}), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateOps([]Op{Set("users", "a/b", map[string]any{})}), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateOps([]Op{Update("users", "u1")}), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateOps([]Op{Create("users", "u1", 42)}), ErrInvalidArgument)
}

func TestTouchedPaths(t *testing.T) {
	got := touchedPaths([]Op{
		Create("chats/c1/messages", "m1", map[string]any{}),
		Update("chats", "c1", Assign("lastUpdated", 1)),
		Create("chats/c1/messages", "m2", map[string]any{}),
	})
	assert.Equal(t, []string{"chats/c1/messages", "chats"}, got)
}

func TestFingerprintTracksVersions(t *testing.T) {
	a := []Document{{Path: "users", ID: "u1", Version: 1}}
	b := []Document{{Path: "users", ID: "u1", Version: 2}}
	assert.NotEqual(t, fingerprint(a), fingerprint(b))
	assert.Equal(t, fingerprint(a), fingerprint([]Document{{Path: "users", ID: "u1", Version: 1}}))
	assert.Equal(t, "", fingerprint(nil))
}
