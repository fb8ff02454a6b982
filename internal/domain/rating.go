package domain

import "time"

const (
	MinRating = 0
	MaxRating = 10
)

// Rating is one row per (session, user, product).
type Rating struct {
	SessionID    SessionID `json:"sessionId"`
	UserID       UserID    `json:"userId"`
	ProductIndex int       `json:"productIndex"`
	Value        float64   `json:"rating"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RatingAverage is the aggregate broadcast after every rating change.
type RatingAverage struct {
	ProductIndex int     `json:"productIndex"`
	Average      float64 `json:"average"`
	Count        int     `json:"count"`
}
