// Package broadcast delivers a message to many recipients under the
// outbound rate ceiling, tolerating per-recipient failures.
package broadcast

import (
	"context"

	"github.com/outage-watcher/pkg/logger"
	"github.com/outage-watcher/pkg/ratelimit"
)

// progressEvery is how many recipients are processed between progress
// callbacks.
const progressEvery = 10

// Sender delivers a single message to a single chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Progress receives periodic delivery updates during long runs.
type Progress func(done, total, success, failed int)

// Result is the exact delivery tally for one broadcast.
// Success + Failed always equals the number of recipients processed.
type Result struct {
	Success int
	Failed  int
	Errors  map[int64]error // per-recipient delivery errors
}

// Total returns the number of recipients processed
func (r *Result) Total() int {
	return r.Success + r.Failed
}

// SuccessRate returns the delivered percentage, 0-100
func (r *Result) SuccessRate() int {
	total := r.Total()
	if total == 0 {
		return 0
	}
	return r.Success * 100 / total
}

// Broadcaster fans a message out sequentially behind a rate limiter.
type Broadcaster struct {
	sender  Sender
	limiter *ratelimit.MultiLimiter
	log     *logger.Logger
}

// New creates a new broadcaster
func New(sender Sender, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		sender:  sender,
		limiter: limiter,
		log:     log.WithComponent("broadcast"),
	}
}

// Send delivers text to every recipient in order. A failed delivery is
// recorded and does not stop the rest of the batch. progress may be nil.
func (b *Broadcaster) Send(ctx context.Context, recipients []int64, text string, progress Progress) (*Result, error) {
	result := &Result{Errors: make(map[int64]error)}

	for i, chatID := range recipients {
		if err := b.limiter.Wait(ctx, ratelimit.LimiterTelegram); err != nil {
			// Context canceled mid-run: return the partial tally
			return result, err
		}

		if err := b.sender.Send(ctx, chatID, text); err != nil {
			result.Failed++
			result.Errors[chatID] = err
			b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Delivery failed")
		} else {
			result.Success++
		}

		if progress != nil && (i+1)%progressEvery == 0 {
			progress(i+1, len(recipients), result.Success, result.Failed)
		}
	}

	b.log.Info().
		Int("recipients", len(recipients)).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Msg("Broadcast completed")

	return result, nil
}
