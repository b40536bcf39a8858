package delivery

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "gopkg.in/telegram-bot-api.v4"
)

// Telegram enforces ~30 messages per second across all chats.
const sendInterval = time.Second / 30

// TelegramSender sends through the Bot API, spacing outbound calls and
// translating API failures into the transport error taxonomy.
type TelegramSender struct {
	api *tgbotapi.BotAPI

	mu   sync.Mutex
	last time.Time
}

func NewTelegramSender(api *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

func (s *TelegramSender) SendText(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	s.throttle()
	_, err := s.api.Send(msg)
	return classify(err)
}

func (s *TelegramSender) SendMedia(chatID int64, m Media) (string, error) {
	var cfg tgbotapi.Chattable

	switch m.Kind {
	case Photo:
		var photo tgbotapi.PhotoConfig
		if m.UploadPath != "" {
			photo = tgbotapi.NewPhotoUpload(chatID, m.UploadPath)
		} else {
			photo = tgbotapi.NewPhotoShare(chatID, m.Handle)
		}
		photo.Caption = m.Caption
		if m.Markup != nil {
			photo.ReplyMarkup = m.Markup
		}
		cfg = photo
	case Audio:
		var audio tgbotapi.AudioConfig
		if m.UploadPath != "" {
			audio = tgbotapi.NewAudioUpload(chatID, m.UploadPath)
		} else {
			audio = tgbotapi.NewAudioShare(chatID, m.Handle)
		}
		audio.Caption = m.Caption
		if m.Markup != nil {
			audio.ReplyMarkup = m.Markup
		}
		cfg = audio
	case Video:
		var video tgbotapi.VideoConfig
		if m.UploadPath != "" {
			video = tgbotapi.NewVideoUpload(chatID, m.UploadPath)
		} else {
			video = tgbotapi.NewVideoShare(chatID, m.Handle)
		}
		video.Caption = m.Caption
		if m.Markup != nil {
			video.ReplyMarkup = m.Markup
		}
		cfg = video
	default:
		return "", fmt.Errorf("unknown media kind %q", m.Kind)
	}

	s.throttle()
	sent, err := s.api.Send(cfg)
	if err != nil {
		return "", classify(err)
	}
	return issuedHandle(sent, m.Kind), nil
}

// AnswerCallback acknowledges a callback query so the client stops the
// button spinner.
func (s *TelegramSender) AnswerCallback(id string) error {
	_, err := s.api.AnswerCallbackQuery(tgbotapi.NewCallback(id, ""))
	return classify(err)
}

// Download fetches the raw bytes of an uploaded file by its handle.
func (s *TelegramSender) Download(fileID string) ([]byte, error) {
	url, err := s.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, classify(err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %v", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *TelegramSender) throttle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wait := sendInterval - time.Since(s.last); wait > 0 {
		time.Sleep(wait)
	}
	s.last = time.Now()
}

// issuedHandle extracts the file handle the platform assigned to the
// delivered media. Photos report several sizes; the last is the largest.
func issuedHandle(msg tgbotapi.Message, kind Kind) string {
	switch kind {
	case Photo:
		if msg.Photo != nil && len(*msg.Photo) > 0 {
			sizes := *msg.Photo
			return sizes[len(sizes)-1].FileID
		}
	case Audio:
		if msg.Audio != nil {
			return msg.Audio.FileID
		}
	case Video:
		if msg.Video != nil {
			return msg.Video.FileID
		}
	}
	return ""
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return &RateLimitedError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
		}
		if strings.Contains(apiErr.Message, "Too Many Requests") {
			return &RateLimitedError{}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimedOut
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return ErrTimedOut
	}
	return err
}
