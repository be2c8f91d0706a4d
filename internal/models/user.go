package models

import "time"

const (
	UserOnline  = "online"
	UserOffline = "offline"
	UserAway    = "away"
)

// User is the presence projection of a user document. Account fields
// (credentials, profile) belong to the auth/user services.
type User struct {
	ID         string    `bson:"_id" json:"id"`
	Status     string    `bson:"status" json:"status"`
	LastActive time.Time `bson:"last_active" json:"last_active"`
	Avatar     string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
}
