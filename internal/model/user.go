package model

type User struct {
	ID          string   `json:"id"`
	PhoneNumber string   `json:"phoneNumber"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName,omitempty"`
	Description string   `json:"description,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	ChannelTags []string `json:"channelTags"`
}

// UserPublic: профиль без подписок, отдаётся другим пользователям.
type UserPublic struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName,omitempty"`
	Description string `json:"description,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Description: u.Description,
		Tag:         u.Tag,
	}
}

// HasChannelTag сообщает, подписан ли пользователь на канал с тегом tag.
func (u *User) HasChannelTag(tag string) bool {
	for _, t := range u.ChannelTags {
		if t == tag {
			return true
		}
	}
	return false
}
