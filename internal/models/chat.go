package models

import "time"

type Chat struct {
	ID            string    `bson:"_id" json:"id"`
	Name          string    `bson:"name,omitempty" json:"name,omitempty"`
	IsGroup       bool      `bson:"is_group" json:"is_group"`
	Members       []string  `bson:"members" json:"members"`
	GroupAdminID  string    `bson:"group_admin_id,omitempty" json:"group_admin_id,omitempty"`
	LatestMessage *Message  `bson:"latest_message,omitempty" json:"latest_message,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// Recipients is everyone currently in the chat except the sender. It is
// the denominator for delivered_all/read_all and is evaluated against
// current membership, not membership at send time.
func (c *Chat) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != senderID {
			out = append(out, m)
		}
	}
	return out
}

func (c *Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}
