package models

import "time"

// Message status, derived from receipt sets versus the chat's current
// recipient count. Never stored independently of a recomputation.
const (
	StatusSent         = "sent"
	StatusDeliveredAll = "delivered_all"
	StatusReadAll      = "read_all"
)

// statusRank orders statuses by information content so transitions can
// only move forward.
func statusRank(s string) int {
	switch s {
	case StatusReadAll:
		return 2
	case StatusDeliveredAll:
		return 1
	default:
		return 0
	}
}

// AdvanceStatus returns next if it carries more information than cur,
// otherwise cur. Downgrades are impossible by construction.
func AdvanceStatus(cur, next string) string {
	if statusRank(next) > statusRank(cur) {
		return next
	}
	return cur
}

// Receipt records that one user delivered or read a message at a time.
type Receipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	At     time.Time `bson:"at" json:"at"`
}

// Receipts is a semantic set keyed by user: at most one entry per user,
// grows monotonically. All mutation goes through AddIfAbsent.
type Receipts []Receipt

func (rs Receipts) Contains(userID string) bool {
	for _, r := range rs {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddIfAbsent appends a receipt for userID unless one already exists.
// Reports whether the set changed.
func (rs *Receipts) AddIfAbsent(userID string, at time.Time) bool {
	if rs.Contains(userID) {
		return false
	}
	*rs = append(*rs, Receipt{UserID: userID, At: at})
	return true
}

func (rs Receipts) UserIDs() []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.UserID)
	}
	return out
}

type Attachment struct {
	Type string `bson:"type" json:"type"`
	URL  string `bson:"url" json:"url"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
	Size int64  `bson:"size,omitempty" json:"size,omitempty"`
}

type Message struct {
	ID                 string       `bson:"_id" json:"id"`
	ChatID             string       `bson:"chat_id" json:"chat_id"`
	ParentID           string       `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	SenderID           string       `bson:"sender_id" json:"sender_id"`
	Content            string       `bson:"content" json:"content"`
	Attachments        []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	DeliveredTo        Receipts     `bson:"delivered_to" json:"delivered_to"`
	ReadBy             Receipts     `bson:"read_by" json:"read_by"`
	Status             string       `bson:"status" json:"status"`
	ThreadCount        int          `bson:"thread_count" json:"thread_count"`
	Reactions          []Reaction   `bson:"reactions,omitempty" json:"reactions,omitempty"`
	DeletedFor         []string     `bson:"deleted_for,omitempty" json:"deleted_for,omitempty"`
	DeletedForEveryone bool         `bson:"deleted_for_everyone" json:"deleted_for_everyone"`
	CreatedAt          time.Time    `bson:"created_at" json:"created_at"`
	EditedAt           *time.Time   `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
}

// Reaction is a (user, emoji) pair on a message; the pair is unique per
// message, order is irrelevant.
type Reaction struct {
	UserID string `bson:"user_id" json:"user_id"`
	Emoji  string `bson:"emoji" json:"emoji"`
}

// VisibleTo reports whether userID should still see the message.
func (m *Message) VisibleTo(userID string) bool {
	if m.DeletedForEveryone {
		return false
	}
	for _, u := range m.DeletedFor {
		if u == userID {
			return false
		}
	}
	return true
}
