package sessions

import "time"

// Session is an admin login session. The refresh token doubles as the value of
// the session cookie.
type Session struct {
	ID           string    `bson:"_id,omitempty" json:"id,omitempty"`
	RefreshToken string    `bson:"refreshToken" json:"refreshToken"`
	UserID       int64     `bson:"userId" json:"userId"`
	Sub          string    `bson:"sub,omitempty" json:"sub,omitempty"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}
