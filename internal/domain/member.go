package domain

// Member represents user's participation meta for a session.
// No transport or lifecycle logic here.
type Member struct {
	User User
	// Ratings is the per-product rating snapshot, keyed by product index.
	Ratings map[int]float64
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user User, ratings map[int]float64) *Member {
	if ratings == nil {
		ratings = make(map[int]float64)
	}
	return &Member{User: user, Ratings: ratings}
}

// WithRating returns a copy of the member carrying the new rating.
func (m Member) WithRating(productIndex int, rating float64) *Member {
	next := make(map[int]float64, len(m.Ratings)+1)
	for k, v := range m.Ratings {
		next[k] = v
	}
	next[productIndex] = rating
	return &Member{User: m.User, Ratings: next}
}
