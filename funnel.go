package giftfunnel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "gopkg.in/telegram-bot-api.v4"

	"github.com/giftfunnel/giftfunnel/delivery"
	"github.com/giftfunnel/giftfunnel/schedule"
	"github.com/giftfunnel/giftfunnel/verdict"
)

// Transport is everything the funnel needs from the messaging platform.
type Transport interface {
	delivery.Sender
	AnswerCallback(id string) error
	Download(fileID string) ([]byte, error)
}

// EventLog records funnel activity. Failures are logged and swallowed;
// the trail is best effort.
type EventLog interface {
	UpsertUser(telegramID int64, userName, fullName, source string) error
	SetStage(telegramID int64, stage string) error
	LogEvent(telegramID int64, event, meta string) error
}

// media slots
const (
	slotAudio    = "audio"
	slotVipAudio = "audio_vip"
	slotImg1     = "img1"
	slotImg2     = "img2"
)

var videoSlots = []string{"video1", "video2", "video3"}

// scheduled action kinds
const (
	actionConfirmPrompt = "offer-confirmation-prompt"
	actionVipReminder   = "vip-reminder"
)

// callback tokens carried in inline button payloads
const (
	cbConfirmYes = "confirm_yes"
	cbVipOpen    = "vip_go"
	cbVipAccept  = "vip_accept"
	cbVipExplain = "vip_explain"
	cbVipPrint   = "vip_print"
	cbVipDeposit = "vip_deposit"
)

const oracleTimeout = 60 * time.Second

// Funnel drives every chat through the scripted gift flow. One inbound
// event or fired timer is handled at a time per chat; the engine
// guarantees that by serializing each chat onto its own goroutine.
type Funnel struct {
	cfg  Config
	deck Deck

	transport Transport
	pipeline  *delivery.Pipeline
	sched     *schedule.Scheduler
	oracle    verdict.Oracle
	events    EventLog
	sessions  *Registry
}

func NewFunnel(cfg Config, deck Deck, transport Transport, pipeline *delivery.Pipeline,
	sched *schedule.Scheduler, oracle verdict.Oracle, events EventLog) *Funnel {

	return &Funnel{
		cfg:       cfg,
		deck:      deck,
		transport: transport,
		pipeline:  pipeline,
		sched:     sched,
		oracle:    oracle,
		events:    events,
		sessions:  NewRegistry(),
	}
}

// Sessions exposes the registry to the engine and tests.
func (f *Funnel) Sessions() *Registry {
	return f.sessions
}

// HandleStart runs the /start command: greet, audio teaser, offer card,
// and the delayed confirmation nudge. Re-entry is idempotent: a second
// /start simply restarts the flow from the gift offer.
func (f *Funnel) HandleStart(chatID int64, userName, firstName, startParam string) {
	sess := f.sessions.GetOrCreate(chatID)
	sess.UserName = userName
	sess.FirstName = firstName
	sess.LastSeen = time.Now()
	sess.Stage = StageGiftOffered
	sess.AwaitingVerdict = false
	sess.VerdictInFlight = false

	f.logUser(sess, startParam)
	f.logEvent(chatID, "start", startParam)

	f.sendText(chatID, f.deck.Greeting, nil)
	f.deliver(chatID, delivery.Audio, slotAudio,
		delivery.Source{Path: f.cfg.AudioPath}, f.deck.TeaserCaption, nil)
	f.deliver(chatID, delivery.Photo, slotImg1,
		delivery.Source{URL: f.deck.Img1URL}, f.deck.OfferCaption, f.registerKeyboard())

	f.sched.Schedule(chatID, actionConfirmPrompt, f.cfg.ConfirmWait)
	f.setStage(sess)
}

// HandleCallback routes an inline button tap. The "accept" and
// "explain" VIP choices are distinct tokens feeding one shared handler;
// they behave identically today but are kept separate on purpose.
func (f *Funnel) HandleCallback(chatID int64, callbackID, token, firstName string) {
	if err := f.transport.AnswerCallback(callbackID); err != nil {
		log.Printf("chat %v: failed to answer callback: %v", chatID, err)
	}

	sess, ok := f.sessions.Get(chatID)
	if !ok {
		return
	}
	sess.LastSeen = time.Now()
	if firstName != "" {
		sess.FirstName = firstName
	}
	f.logEvent(chatID, "callback", token)

	switch token {
	case cbConfirmYes:
		f.confirmYes(sess)
	case cbVipOpen:
		f.openVip(sess)
	case cbVipAccept, cbVipExplain:
		f.vipChoice(sess)
	case cbVipPrint:
		f.sendText(chatID, f.deck.PrintNudge, nil)
	case cbVipDeposit:
		f.sendText(chatID, f.deck.DepositNudge, nil)
	default:
		log.Printf("chat %v: unknown callback token %q", chatID, token)
	}
}

// HandleAction runs a fired scheduler timer. Every branch re-checks its
// gating condition: a stale timer is a cheap no-op.
func (f *Funnel) HandleAction(a schedule.Action) {
	sess, ok := f.sessions.Get(a.ChatID)
	if !ok {
		return
	}

	switch a.Kind {
	case actionConfirmPrompt:
		if sess.Stage != StageGiftOffered {
			return
		}
		sess.Stage = StageConfirmPending
		f.sendText(sess.ChatID, f.deck.ConfirmPrompt, f.yesKeyboard())
		f.setStage(sess)
	case actionVipReminder:
		if !sess.AwaitingVerdict {
			return
		}
		f.sendText(sess.ChatID, f.deck.GateReminder, f.gateKeyboard())
	default:
		log.Printf("chat %v: unknown scheduled action %q", a.ChatID, a.Kind)
	}
}

// HandlePhoto treats an inbound photo as proof of deposit. Outside
// VipVerdictPending the submission is silently ignored: no oracle call,
// no state change.
func (f *Funnel) HandlePhoto(chatID int64, fileID string) {
	sess, ok := f.sessions.Get(chatID)
	if !ok || sess.Stage != StageVipVerdictPending || !sess.AwaitingVerdict {
		return
	}
	if sess.VerdictInFlight {
		return
	}
	sess.VerdictInFlight = true
	defer func() { sess.VerdictInFlight = false }()
	sess.LastSeen = time.Now()

	raw, err := f.transport.Download(fileID)
	if err != nil {
		log.Printf("chat %v: failed to download proof image: %v", chatID, err)
		f.sendText(chatID, f.deck.ResendPhotoText, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), oracleTimeout)
	defer cancel()

	v, err := f.oracle.Inspect(ctx, raw, f.criteria(sess))
	if err != nil {
		log.Printf("chat %v: verdict oracle unavailable, accepting provisionally: %v", chatID, err)
		f.grantVip(sess, f.deck.ProvisionalText, "provisional")
		return
	}

	if v.Approved {
		f.grantVip(sess, f.deck.ApprovedText, "approved")
		return
	}

	// Rejection keeps the chat in VipVerdictPending and re-arms the
	// reminder; the user can just send a better screenshot.
	f.logEvent(chatID, "vip_rejected", strings.Join(v.Reasons, "; "))
	f.sendText(chatID, f.rejectionText(v), f.gateKeyboard())
	f.sched.Schedule(chatID, actionVipReminder, f.cfg.VipWait)
}

// HandleAudioCapture stores an operator-sent audio as the teaser slot
// and echoes the handle so it can be pinned via FILE_ID_AUDIO.
func (f *Funnel) HandleAudioCapture(chatID int64, fileID string) {
	f.pipeline.Capture(slotAudio, fileID)
	f.sendText(chatID, fmt.Sprintf("🎧 Audio saved!\nFILE_ID_AUDIO=\n%s", fileID), nil)
}

// HandleVideoCapture stores an operator-sent video in the first free
// video slot.
func (f *Funnel) HandleVideoCapture(chatID int64, fileID string) {
	slot, ok := f.pipeline.CaptureFree(fileID, videoSlots...)
	if !ok {
		f.sendText(chatID, fmt.Sprintf("🎬 Got a video.\nFILE_ID=\n%s", fileID), nil)
		return
	}
	f.sendText(chatID, fmt.Sprintf("🎬 Video saved to %s!\nFILE_ID=\n%s", slot, fileID), nil)
}

func (f *Funnel) confirmYes(sess *Session) {
	if sess.Stage != StageConfirmPending {
		return
	}
	sess.Stage = StageAccessGranted

	f.deliver(sess.ChatID, delivery.Photo, slotImg2,
		delivery.Source{URL: f.deck.Img2URL}, f.deck.UnlockCaption, f.communityKeyboard())
	f.sendText(sess.ChatID, f.deck.VipHook, f.vipOpenKeyboard())
	f.setStage(sess)
}

func (f *Funnel) openVip(sess *Session) {
	if sess.Stage != StageAccessGranted {
		return
	}
	sess.Stage = StageVipOffered

	name := sess.FirstName
	if name == "" {
		name = "friend"
	}
	f.sendText(sess.ChatID, fmt.Sprintf(f.deck.VipIntro, name), f.vipChoiceKeyboard())
	f.setStage(sess)
}

func (f *Funnel) vipChoice(sess *Session) {
	if sess.Stage != StageVipOffered {
		return
	}
	sess.Stage = StageVipChoicePending

	f.deliver(sess.ChatID, delivery.Audio, slotVipAudio,
		delivery.Source{}, f.deck.VipAudioCaption, nil)
	for _, slot := range videoSlots {
		f.deliver(sess.ChatID, delivery.Video, slot, delivery.Source{}, "", nil)
	}

	sess.Stage = StageVipVerdictPending
	sess.AwaitingVerdict = true
	f.sendText(sess.ChatID, f.deck.GatePrompt, f.gateKeyboard())
	f.sched.Schedule(sess.ChatID, actionVipReminder, f.cfg.VipWait)
	f.setStage(sess)
}

func (f *Funnel) grantVip(sess *Session, text, outcome string) {
	sess.AwaitingVerdict = false
	sess.Stage = StageVipGranted
	f.sched.Cancel(sess.ChatID, actionVipReminder)

	f.sendText(sess.ChatID, text, f.vipLinkKeyboard())
	f.logEvent(sess.ChatID, "vip_granted", outcome)
	f.setStage(sess)
}

func (f *Funnel) criteria(sess *Session) verdict.Criteria {
	return verdict.Criteria{
		MinAmount:      f.cfg.MinDeposit,
		RequiredStatus: f.cfg.RequiredStatus,
		Mode:           f.cfg.ValidationMode,
		ChatStartedAt:  sess.StartedAt,
		Location:       time.FixedZone("local", f.cfg.TZOffsetHours*3600),
	}
}

func (f *Funnel) rejectionText(v verdict.Verdict) string {
	if len(v.Reasons) == 0 {
		return f.deck.RejectedPrefix + "- the screenshot did not match the required deposit"
	}
	var b strings.Builder
	b.WriteString(f.deck.RejectedPrefix)
	for _, reason := range v.Reasons {
		b.WriteString("- ")
		b.WriteString(reason)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// sendText wraps the transport call with the retry budget. Send failures
// never stop the funnel; they are logged and the flow continues.
func (f *Funnel) sendText(chatID int64, text string, markup interface{}) {
	err := delivery.WithRetry(delivery.DefaultAttempts, func() error {
		return f.transport.SendText(chatID, text, markup)
	})
	if err != nil {
		log.Printf("chat %v: failed to send text: %v", chatID, err)
	}
}

func (f *Funnel) deliver(chatID int64, kind delivery.Kind, slot string, src delivery.Source, caption string, markup interface{}) {
	if err := f.pipeline.Deliver(chatID, kind, slot, src, caption, markup); err != nil {
		log.Printf("chat %v: media slot %q not delivered: %v", chatID, slot, err)
	}
}

func (f *Funnel) logUser(sess *Session, source string) {
	if f.events == nil {
		return
	}
	fullName := strings.TrimSpace(sess.FirstName)
	if err := f.events.UpsertUser(sess.ChatID, sess.UserName, fullName, source); err != nil {
		log.Printf("chat %v: failed to upsert user: %v", sess.ChatID, err)
	}
}

func (f *Funnel) setStage(sess *Session) {
	if f.events == nil {
		return
	}
	if err := f.events.SetStage(sess.ChatID, string(sess.Stage)); err != nil {
		log.Printf("chat %v: failed to record stage: %v", sess.ChatID, err)
	}
}

func (f *Funnel) logEvent(chatID int64, event, meta string) {
	if f.events == nil {
		return
	}
	if err := f.events.LogEvent(chatID, event, meta); err != nil {
		log.Printf("chat %v: failed to log event %q: %v", chatID, event, err)
	}
}

func (f *Funnel) registerKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(f.deck.Buttons.CreateAccount, f.deck.RegisterLink)))
}

func (f *Funnel) yesKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.deck.Buttons.Yes, cbConfirmYes)))
}

func (f *Funnel) communityKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(f.deck.Buttons.OpenCommunity, f.deck.CommunityLink)))
}

func (f *Funnel) vipOpenKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.deck.Buttons.OpenVip, cbVipOpen)))
}

func (f *Funnel) vipChoiceKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.deck.Buttons.VipAccept, cbVipAccept)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.deck.Buttons.VipExplain, cbVipExplain)))
}

func (f *Funnel) gateKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.deck.Buttons.SendPrint, cbVipPrint)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.deck.Buttons.MakeDeposit, cbVipDeposit)))
}

func (f *Funnel) vipLinkKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(f.deck.Buttons.OpenCommunity, f.deck.VipLink)))
}
