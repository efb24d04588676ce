package model

type Channel struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	Tag              string `json:"tag"`
	OwnerID          string `json:"ownerId"`
	SubscribersCount int64  `json:"subscribersCount"`
	LastPost         *Post  `json:"lastPost,omitempty"`
	LastUpdated      int64  `json:"lastUpdated"`
}

// Post: запись канала; счётчики меняются только вместе с документами реакций.
type Post struct {
	ID            string `json:"id"`
	ChannelID     string `json:"channelId"`
	Content       string `json:"content"`
	LikesCount    int64  `json:"likesCount"`
	DislikesCount int64  `json:"dislikesCount"`
	PostedAt      int64  `json:"postedAt"`
}
