// Package giftfunnel is a promotional Telegram gift funnel bot: greet,
// audio teaser, offer card, delayed follow-up, then a VIP gate behind a
// proof-of-deposit screenshot judged by a vision model.
package giftfunnel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "gopkg.in/telegram-bot-api.v4"

	"github.com/giftfunnel/giftfunnel/delivery"
	"github.com/giftfunnel/giftfunnel/mediacache"
	"github.com/giftfunnel/giftfunnel/schedule"
	"github.com/giftfunnel/giftfunnel/store"
	"github.com/giftfunnel/giftfunnel/verdict"
)

const (
	chatChanBufSize = 100
	telegramTimeout = 60 // long-poll seconds
)

// signal is either a tgbotapi.Update or a schedule.Action.
type signal interface{}

// Bot owns the Telegram connection and routes every update and fired
// timer into a per-chat channel, each drained by its own goroutine.
// Events for one chat are therefore handled strictly in order while
// independent chats interleave freely.
type Bot struct {
	cfg    Config
	api    *tgbotapi.BotAPI
	funnel *Funnel
	sched  *schedule.Scheduler

	chatChans struct {
		*sync.RWMutex
		m map[int64]chan signal
	}
}

// New wires the whole bot from config: transport, media cache, delivery
// pipeline, scheduler, verdict oracle, and the sqlite activity log.
func New(cfg Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}

	deck, err := LoadDeck(cfg.DeckPath)
	if err != nil {
		log.Printf("using default copy deck: %v", err)
	}

	var events EventLog
	if cfg.StorePath != "" {
		db, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		events = db
	}

	var oracle verdict.Oracle
	if cfg.OpenAIKey != "" {
		oracle = verdict.NewOpenAIOracle(cfg.OpenAIKey, cfg.OpenAIModel)
	} else {
		log.Printf("OPENAI_API_KEY not set, every proof submission will be accepted provisionally")
		oracle = unavailableOracle{}
	}

	b := &Bot{cfg: cfg, api: api}
	b.chatChans.RWMutex = &sync.RWMutex{}
	b.chatChans.m = map[int64]chan signal{}

	sender := delivery.NewTelegramSender(api)
	cache := mediacache.Open(cfg.CachePath)
	pipeline := delivery.NewPipeline(sender, cache, cfg.Overrides)
	b.sched = schedule.New(b.emitAction)
	b.funnel = NewFunnel(cfg, deck, sender, pipeline, b.sched, oracle, events)

	return b, nil
}

// Run polls for updates until the process exits.
func (b *Bot) Run() {
	log.Printf("Authorized on account %s", b.api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramTimeout
	updates, _ := updatesChan(b.api, u)

	b.processUpdates(updates)
}

func (b *Bot) processUpdates(updates <-chan tgbotapi.Update) {
	for update := range updates {
		chatID, ok := updateChatID(update)
		if !ok {
			continue
		}

		b.chatChans.RLock()
		ch, exists := b.chatChans.m[chatID]
		b.chatChans.RUnlock()

		if !exists {
			ch = make(chan signal, chatChanBufSize)
			b.chatChans.Lock()
			b.chatChans.m[chatID] = ch
			b.chatChans.Unlock()
			go b.processChat(chatID, ch)
		}

		select {
		case ch <- update:
		default:
			log.Printf("Channel buffer for chat %v is full, dropping update", chatID)
		}
	}
}

// goroutine, one per chat
func (b *Bot) processChat(chatID int64, signals <-chan signal) {
	for sig := range signals {
		b.dispatch(chatID, sig)
	}
}

// dispatch handles one event, dropping it (state untouched) if the
// handler panics.
func (b *Bot) dispatch(chatID int64, sig signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("chat %v: dropped event after panic: %v", chatID, r)
		}
	}()

	switch s := sig.(type) {
	case schedule.Action:
		b.funnel.HandleAction(s)
	case tgbotapi.Update:
		b.handleUpdate(chatID, s)
	default:
		log.Printf("chat %v: unexpected signal %T", chatID, sig)
	}
}

func (b *Bot) handleUpdate(chatID int64, update tgbotapi.Update) {
	if q := update.CallbackQuery; q != nil {
		var firstName string
		if q.From != nil {
			firstName = q.From.FirstName
		}
		b.funnel.HandleCallback(chatID, q.ID, q.Data, firstName)
		return
	}

	msg := update.Message
	if msg == nil {
		return
	}

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		var userName, firstName string
		if msg.From != nil {
			userName = msg.From.UserName
			firstName = msg.From.FirstName
		}
		b.funnel.HandleStart(chatID, userName, firstName, msg.CommandArguments())

	case msg.Photo != nil && len(*msg.Photo) > 0:
		sizes := *msg.Photo
		b.funnel.HandlePhoto(chatID, sizes[len(sizes)-1].FileID)

	case isImageDocument(msg):
		b.funnel.HandlePhoto(chatID, msg.Document.FileID)

	case msg.Audio != nil:
		b.funnel.HandleAudioCapture(chatID, msg.Audio.FileID)

	case msg.Voice != nil:
		b.funnel.HandleAudioCapture(chatID, msg.Voice.FileID)

	case msg.Video != nil:
		b.funnel.HandleVideoCapture(chatID, msg.Video.FileID)

	case msg.VideoNote != nil:
		b.funnel.HandleVideoCapture(chatID, msg.VideoNote.FileID)

	case isVideoDocument(msg):
		b.funnel.HandleVideoCapture(chatID, msg.Document.FileID)
	}
}

// emitAction routes a fired timer into its chat's channel so it is
// serialized with inbound events. A chat whose channel is gone (process
// restarted mid-delay) just loses the nudge; that is the accepted
// durability level for reminders.
func (b *Bot) emitAction(a schedule.Action) {
	b.chatChans.RLock()
	ch := b.chatChans.m[a.ChatID]
	b.chatChans.RUnlock()

	if ch == nil {
		return
	}
	select {
	case ch <- a:
	default:
		log.Printf("Channel buffer for chat %v is full, dropping action %q", a.ChatID, a.Kind)
	}
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		return update.CallbackQuery.Message.Chat.ID, true
	}
	if update.Message != nil {
		return update.Message.Chat.ID, true
	}
	return 0, false
}

func isImageDocument(msg *tgbotapi.Message) bool {
	return msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/")
}

func isVideoDocument(msg *tgbotapi.Message) bool {
	return msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/")
}

// updatesChan wraps GetUpdates with reconnect-on-error polling and a
// stop channel the caller can close to end the stream.
func updatesChan(bot *tgbotapi.BotAPI, config tgbotapi.UpdateConfig) (<-chan tgbotapi.Update, chan<- struct{}) {
	updates := make(chan tgbotapi.Update, 100)
	stop := make(chan struct{})

	go func() {
		for {
			batch, err := bot.GetUpdates(config)
			if err != nil {
				log.Println(err)
				log.Println("Failed to get updates, retrying in 3 seconds...")
				time.Sleep(time.Second * 3)

				continue
			}

			for _, update := range batch {
				if update.UpdateID >= config.Offset {
					config.Offset = update.UpdateID + 1
					updates <- update
				}
			}

			select {
			case <-stop:
				close(updates)
				return
			default:
				continue
			}
		}
	}()

	return updates, stop
}

// unavailableOracle stands in when no judge is configured; the funnel
// turns its error into provisional acceptance.
type unavailableOracle struct{}

func (unavailableOracle) Inspect(_ context.Context, _ []byte, _ verdict.Criteria) (verdict.Verdict, error) {
	return verdict.Verdict{}, fmt.Errorf("verdict oracle is not configured")
}
