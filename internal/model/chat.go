package model

import (
	"crypto/sha256"
	"encoding/hex"
)

type GroupInfo struct {
	Name      string   `json:"name"`
	Tag       string   `json:"tag,omitempty"`
	IsPrivate bool     `json:"isPrivate"`
	CreatedBy string   `json:"createdBy"`
	Members   []string `json:"members"`
}

// Chat: личный (Participants из двух id) или групповой (GroupInfo) диалог.
type Chat struct {
	ID           string     `json:"id"`
	IsGroup      bool       `json:"isGroup"`
	Participants []string   `json:"participants,omitempty"`
	GroupInfo    *GroupInfo `json:"groupInfo,omitempty"`
	LastMessage  *Message   `json:"lastMessage,omitempty"`
	LastUpdated  int64      `json:"lastUpdated"`
}

// OtherParticipant возвращает собеседника в личном чате, "" для групп.
func (c *Chat) OtherParticipant(userID string) string {
	if c.IsGroup {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c *Chat) HasMember(userID string) bool {
	if c.IsGroup {
		if c.GroupInfo == nil {
			return false
		}
		for _, m := range c.GroupInfo.Members {
			if m == userID {
				return true
			}
		}
		return false
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatListItem: элемент списка чатов, то есть чат и профиль собеседника (nil для групп).
type ChatListItem struct {
	Chat             Chat        `json:"chat"`
	OtherParticipant *UserPublic `json:"otherParticipant,omitempty"`
}

// SortedPair упорядочивает пару id, чтобы пара не зависела от порядка.
func SortedPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// DirectChatID выводит id личного чата из неупорядоченной пары участников:
// одной паре всегда соответствует один документ.
func DirectChatID(a, b string) string {
	p := SortedPair(a, b)
	sum := sha256.Sum256([]byte(p[0] + "\x00" + p[1]))
	return "dm_" + hex.EncodeToString(sum[:16])
}
