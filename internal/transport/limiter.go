package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedSender throttles outbound sends across all chats of a process.
// Platforms flag accounts that send too fast; the limiter sits below the
// per-chat cooldown as a global floor.
type RateLimitedSender struct {
	tr      Transport
	limiter *rate.Limiter
}

// NewRateLimitedSender wraps tr with a token bucket of perMinute sends.
func NewRateLimitedSender(tr Transport, perMinute int) *RateLimitedSender {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &RateLimitedSender{
		tr:      tr,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute/4+1),
	}
}

// Send blocks until a token is available or ctx is cancelled.
func (s *RateLimitedSender) Send(ctx context.Context, chatID string, text string) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return s.tr.Send(ctx, chatID, text)
}
