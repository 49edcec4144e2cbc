package domain

import "time"

// Identity - пользователь, подтвержденный токеном.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}
