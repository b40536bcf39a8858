package delivery

import (
	"fmt"
	"log"
	"os"

	"github.com/giftfunnel/giftfunnel/mediacache"
)

// Source is the authoritative original for a slot, used when no handle
// is available. Either field may be empty; an empty Source means the
// slot can only be served from an override or the cache.
type Source struct {
	URL  string
	Path string
}

// Pipeline resolves a logical media slot through ordered tiers and
// writes freshly issued handles back to the cache. Operator overrides
// are treated as already durable and never written back.
type Pipeline struct {
	sender    Sender
	cache     *mediacache.Cache
	overrides map[string]string
	attempts  int
}

func NewPipeline(sender Sender, cache *mediacache.Cache, overrides map[string]string) *Pipeline {
	return &Pipeline{
		sender:    sender,
		cache:     cache,
		overrides: overrides,
		attempts:  DefaultAttempts,
	}
}

// Deliver sends the slot's media to chatID, trying the override handle,
// then the cached handle (invalidating it on failure), then the fresh
// source (remembering the issued handle on success). When every tier
// fails a photo degrades to its caption as plain text; audio and video
// fail silently. The returned error is informational: callers log it
// and continue the funnel.
func (p *Pipeline) Deliver(chatID int64, kind Kind, slot string, src Source, caption string, markup interface{}) error {
	send := func(m Media) (string, error) {
		var handle string
		err := WithRetry(p.attempts, func() error {
			var err error
			handle, err = p.sender.SendMedia(chatID, m)
			return err
		})
		return handle, err
	}

	if override := p.overrides[slot]; override != "" {
		_, err := send(Media{Kind: kind, Handle: override, Caption: caption, Markup: markup})
		if err == nil {
			return nil
		}
		log.Printf("override handle for slot %q failed: %v", slot, err)
	}

	if cached, ok := p.cache.Resolve(slot); ok {
		_, err := send(Media{Kind: kind, Handle: cached, Caption: caption, Markup: markup})
		if err == nil {
			return nil
		}
		p.cache.Invalidate(slot)
		log.Printf("cached handle for slot %q rejected, evicted: %v", slot, err)
	}

	if m, ok := freshMedia(kind, src, caption, markup); ok {
		handle, err := send(m)
		if err == nil {
			if handle != "" {
				p.cache.Remember(slot, handle)
			}
			return nil
		}
		log.Printf("fresh source for slot %q failed: %v", slot, err)
	}

	if kind == Photo && caption != "" {
		if err := WithRetry(p.attempts, func() error {
			return p.sender.SendText(chatID, caption, markup)
		}); err != nil {
			return fmt.Errorf("slot %q degraded to text and still failed: %w", slot, err)
		}
		return nil
	}
	return fmt.Errorf("no resolution tier left for slot %q", slot)
}

// Capture remembers an operator-provided handle for slot.
func (p *Pipeline) Capture(slot, handle string) {
	p.cache.Remember(slot, handle)
}

// CaptureFree remembers handle in the first of slots that has no cached
// handle yet, returning the chosen slot.
func (p *Pipeline) CaptureFree(handle string, slots ...string) (string, bool) {
	slot, ok := p.cache.FirstFreeSlot(slots...)
	if !ok {
		return "", false
	}
	p.cache.Remember(slot, handle)
	return slot, true
}

func freshMedia(kind Kind, src Source, caption string, markup interface{}) (Media, bool) {
	if src.URL != "" {
		return Media{Kind: kind, Handle: src.URL, Caption: caption, Markup: markup}, true
	}
	if src.Path != "" {
		if info, err := os.Stat(src.Path); err == nil && info.Size() > 0 {
			return Media{Kind: kind, UploadPath: src.Path, Caption: caption, Markup: markup}, true
		}
	}
	return Media{}, false
}
