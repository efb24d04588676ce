package model

import (
	"crypto/sha256"
	"encoding/hex"
)

type ReactionType string

const (
	ReactionLike    ReactionType = "LIKE"
	ReactionDislike ReactionType = "DISLIKE"
)

func (t ReactionType) Valid() bool {
	return t == ReactionLike || t == ReactionDislike
}

func (t ReactionType) Opposite() ReactionType {
	if t == ReactionLike {
		return ReactionDislike
	}
	return ReactionLike
}

// CounterField: поле поста, которое считает реакции этого типа.
func (t ReactionType) CounterField() string {
	if t == ReactionLike {
		return "likesCount"
	}
	return "dislikesCount"
}

type Reaction struct {
	ID        string       `json:"id"`
	ChannelID string       `json:"channelId"`
	PostID    string       `json:"postId"`
	UserID    string       `json:"userId"`
	Type      ReactionType `json:"type"`
}

// ReactionID выводит id реакции из пары (пользователь, пост): у пары не может быть двух документов.
func ReactionID(userID, postID string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + postID))
	return "r_" + hex.EncodeToString(sum[:16])
}
