package signal

import "golang.org/x/time/rate"

// newInboundLimiter throttles raw frames per connection. It guards the
// decoder against floods; chat admission is the message rate limiter's job.
func newInboundLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
