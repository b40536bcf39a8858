// Package delivery sends logical media units through ordered resolution
// tiers (operator override, cached handle, fresh source) and wraps every
// outbound call with a bounded retry on transient transport failures.
package delivery

import (
	"fmt"
	"time"
)

// Kind of a media unit.
type Kind string

const (
	Photo Kind = "photo"
	Audio Kind = "audio"
	Video Kind = "video"
)

// Media is one outbound media send. Exactly one of Handle and UploadPath
// is set: Handle carries a platform file handle or a remote URL the
// platform fetches itself, UploadPath points at a local file to upload.
type Media struct {
	Kind       Kind
	Handle     string
	UploadPath string
	Caption    string
	Markup     interface{}
}

// Sender is the outbound transport. SendMedia returns the handle the
// platform issued for the delivered media, empty if none was reported.
type Sender interface {
	SendText(chatID int64, text string, markup interface{}) error
	SendMedia(chatID int64, m Media) (handle string, err error)
}

// RateLimitedError reports a send rejected with a required backoff.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// ErrTimedOut reports a send that did not complete in time.
var ErrTimedOut = fmt.Errorf("request timed out")
