package delivery

import (
	"errors"
	"time"
)

// DefaultAttempts is the retry budget for one logical send.
const DefaultAttempts = 2

const defaultBackoff = time.Second

// stubbed in tests
var sleep = time.Sleep

// WithRetry runs op up to attempts times. Rate-limited failures sleep
// the reported backoff (or a default) and retry; timeouts sleep a fixed
// interval and retry; anything else aborts immediately. The last error
// is returned once the budget is spent.
func WithRetry(attempts int, op func() error) error {
	if attempts < 1 {
		attempts = DefaultAttempts
	}

	var last error
	for i := 0; i < attempts; i++ {
		err := op()
		if err == nil {
			return nil
		}
		last = err

		var rl *RateLimitedError
		switch {
		case errors.As(err, &rl):
			backoff := rl.RetryAfter
			if backoff <= 0 {
				backoff = defaultBackoff
			}
			sleep(backoff)
		case errors.Is(err, ErrTimedOut):
			sleep(defaultBackoff)
		default:
			return err
		}
	}
	return last
}
