package model

import "time"

// User holds the wallet balance in minor currency units.
// Balance mutations happen only under the user:balance KV-lock plus a
// pessimistic row lock; balance never goes below zero at a commit point.
type User struct {
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
