package giftfunnel

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giftfunnel/giftfunnel/delivery"
	"github.com/giftfunnel/giftfunnel/mediacache"
	"github.com/giftfunnel/giftfunnel/schedule"
	"github.com/giftfunnel/giftfunnel/verdict"
)

type sentText struct {
	chatID int64
	text   string
	markup interface{}
}

type fakeTransport struct {
	mu       sync.Mutex
	texts    []sentText
	media    []delivery.Media
	answered []string
}

func (ft *fakeTransport) SendText(chatID int64, text string, markup interface{}) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.texts = append(ft.texts, sentText{chatID, text, markup})
	return nil
}

func (ft *fakeTransport) SendMedia(chatID int64, m delivery.Media) (string, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.media = append(ft.media, m)
	return "issued-" + string(m.Kind), nil
}

func (ft *fakeTransport) AnswerCallback(id string) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.answered = append(ft.answered, id)
	return nil
}

func (ft *fakeTransport) Download(fileID string) ([]byte, error) {
	return []byte("screenshot-bytes"), nil
}

func (ft *fakeTransport) textCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.texts)
}

func (ft *fakeTransport) countTextsContaining(sub string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, s := range ft.texts {
		if strings.Contains(s.text, sub) {
			n++
		}
	}
	return n
}

type fakeOracle struct {
	mu       sync.Mutex
	calls    int
	verdicts []verdict.Verdict
	err      error
}

func (o *fakeOracle) Inspect(_ context.Context, _ []byte, _ verdict.Criteria) (verdict.Verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return verdict.Verdict{}, o.err
	}
	v := o.verdicts[0]
	if len(o.verdicts) > 1 {
		o.verdicts = o.verdicts[1:]
	}
	return v, nil
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func newTestFunnel(t *testing.T, oracle verdict.Oracle, confirmWait, vipWait time.Duration) (*Funnel, *fakeTransport, *schedule.Scheduler) {
	t.Helper()

	ft := &fakeTransport{}
	cache := mediacache.Open(filepath.Join(t.TempDir(), "ids.json"))
	pipeline := delivery.NewPipeline(ft, cache, nil)

	cfg := Config{
		MinDeposit:     35,
		RequiredStatus: "Completed",
		ValidationMode: "today",
		ConfirmWait:    confirmWait,
		VipWait:        vipWait,
	}

	var f *Funnel
	sched := schedule.New(func(a schedule.Action) { f.HandleAction(a) })
	f = NewFunnel(cfg, DefaultDeck(), ft, pipeline, sched, oracle, nil)
	return f, ft, sched
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", what)
}

// driveToVerdictPending walks a chat through the whole pre-gate funnel.
func driveToVerdictPending(f *Funnel, chatID int64) {
	f.HandleStart(chatID, "user", "Ana", "")
	f.HandleAction(schedule.Action{ChatID: chatID, Kind: actionConfirmPrompt})
	f.HandleCallback(chatID, "cb1", cbConfirmYes, "Ana")
	f.HandleCallback(chatID, "cb2", cbVipOpen, "Ana")
	f.HandleCallback(chatID, "cb3", cbVipAccept, "Ana")
}

func TestStartOffersGift(t *testing.T) {
	f, ft, sched := newTestFunnel(t, &fakeOracle{}, time.Hour, time.Hour)
	deck := DefaultDeck()

	f.HandleStart(42, "user42", "Ana", "campaign-a")

	if ft.texts[0].text != deck.Greeting {
		t.Errorf("first send = %q, want the greeting", ft.texts[0].text)
	}
	if len(ft.media) != 1 || ft.media[0].Kind != delivery.Photo || ft.media[0].Caption != deck.OfferCaption {
		t.Errorf("offer card not sent: %+v", ft.media)
	}
	if ft.media[0].Markup == nil {
		t.Error("offer card has no call-to-action button")
	}

	sess, _ := f.Sessions().Get(42)
	if sess.Stage != StageGiftOffered {
		t.Errorf("stage = %v", sess.Stage)
	}
	if !sched.Outstanding(42, actionConfirmPrompt) {
		t.Error("confirmation nudge not armed")
	}
}

func TestConfirmFlow(t *testing.T) {
	f, ft, _ := newTestFunnel(t, &fakeOracle{}, 15*time.Millisecond, time.Hour)
	deck := DefaultDeck()

	f.HandleStart(42, "user42", "Ana", "")

	waitFor(t, "confirmation prompt", func() bool {
		return ft.countTextsContaining(deck.ConfirmPrompt) == 1
	})
	sess, _ := f.Sessions().Get(42)
	if sess.Stage != StageConfirmPending {
		t.Errorf("stage = %v after nudge", sess.Stage)
	}

	f.HandleCallback(42, "cb-yes", cbConfirmYes, "Ana")

	if sess.Stage != StageAccessGranted {
		t.Errorf("stage = %v after yes", sess.Stage)
	}
	if len(ft.media) != 2 || ft.media[1].Caption != deck.UnlockCaption {
		t.Errorf("unlock card not sent: %+v", ft.media)
	}
	if ft.countTextsContaining(deck.VipHook) != 1 {
		t.Error("VIP hook not sent")
	}
}

func TestDuplicateStartArmsOneNudge(t *testing.T) {
	f, ft, _ := newTestFunnel(t, &fakeOracle{}, 15*time.Millisecond, time.Hour)
	deck := DefaultDeck()

	f.HandleStart(42, "user42", "Ana", "")
	f.HandleStart(42, "user42", "Ana", "")

	time.Sleep(100 * time.Millisecond)
	if n := ft.countTextsContaining(deck.ConfirmPrompt); n != 1 {
		t.Errorf("confirmation prompt sent %d times, want 1", n)
	}
}

func TestProofIgnoredOutsideGate(t *testing.T) {
	oracle := &fakeOracle{}
	f, ft, _ := newTestFunnel(t, oracle, time.Hour, time.Hour)

	f.HandleStart(42, "user42", "Ana", "")
	before := ft.textCount()

	f.HandlePhoto(42, "proof-file-id")

	if oracle.callCount() != 0 {
		t.Error("oracle called for a proof submitted outside the gate")
	}
	sess, _ := f.Sessions().Get(42)
	if sess.Stage != StageGiftOffered {
		t.Errorf("stage changed to %v", sess.Stage)
	}
	if ft.textCount() != before {
		t.Error("ignored proof still produced a reply")
	}
}

func TestVipRejectThenApprove(t *testing.T) {
	oracle := &fakeOracle{verdicts: []verdict.Verdict{
		{Approved: false, Reasons: []string{"amount below minimum"}},
		{Approved: true},
	}}
	f, ft, sched := newTestFunnel(t, oracle, time.Hour, time.Hour)
	deck := DefaultDeck()

	driveToVerdictPending(f, 7)

	sess, _ := f.Sessions().Get(7)
	if sess.Stage != StageVipVerdictPending || !sess.AwaitingVerdict {
		t.Fatalf("gate not armed: stage %v, awaiting %v", sess.Stage, sess.AwaitingVerdict)
	}
	if !sched.Outstanding(7, actionVipReminder) {
		t.Error("VIP reminder not armed at the gate")
	}

	f.HandlePhoto(7, "proof-1")

	if sess.Stage != StageVipVerdictPending || !sess.AwaitingVerdict {
		t.Errorf("rejection moved the chat: stage %v, awaiting %v", sess.Stage, sess.AwaitingVerdict)
	}
	if ft.countTextsContaining("amount below minimum") != 1 {
		t.Error("rejection reasons not surfaced to the user")
	}
	if !sched.Outstanding(7, actionVipReminder) {
		t.Error("reminder not armed after rejection")
	}

	f.HandlePhoto(7, "proof-2")

	if sess.Stage != StageVipGranted || sess.AwaitingVerdict {
		t.Errorf("approval did not grant: stage %v, awaiting %v", sess.Stage, sess.AwaitingVerdict)
	}
	if ft.countTextsContaining(deck.ApprovedText) != 1 {
		t.Error("approval message not sent")
	}
	if sched.Outstanding(7, actionVipReminder) {
		t.Error("reminder still armed after approval")
	}
	if oracle.callCount() != 2 {
		t.Errorf("oracle called %d times, want 2", oracle.callCount())
	}
}

func TestExplainChoiceConvergesToGate(t *testing.T) {
	f, _, _ := newTestFunnel(t, &fakeOracle{}, time.Hour, time.Hour)

	f.HandleStart(9, "user9", "Bob", "")
	f.HandleAction(schedule.Action{ChatID: 9, Kind: actionConfirmPrompt})
	f.HandleCallback(9, "cb1", cbConfirmYes, "Bob")
	f.HandleCallback(9, "cb2", cbVipOpen, "Bob")
	f.HandleCallback(9, "cb3", cbVipExplain, "Bob")

	sess, _ := f.Sessions().Get(9)
	if sess.Stage != StageVipVerdictPending || !sess.AwaitingVerdict {
		t.Errorf("explain branch did not reach the gate: stage %v", sess.Stage)
	}
}

func TestStaleReminderIsSilent(t *testing.T) {
	oracle := &fakeOracle{verdicts: []verdict.Verdict{{Approved: true}}}
	f, ft, _ := newTestFunnel(t, oracle, time.Hour, time.Hour)

	driveToVerdictPending(f, 7)
	f.HandlePhoto(7, "proof-1")

	before := ft.textCount()
	f.HandleAction(schedule.Action{ChatID: 7, Kind: actionVipReminder})
	if ft.textCount() != before {
		t.Error("reminder fired a message after the verdict was cleared")
	}
}

func TestOracleUnavailableGrantsProvisionally(t *testing.T) {
	oracle := &fakeOracle{err: context.DeadlineExceeded}
	f, ft, _ := newTestFunnel(t, oracle, time.Hour, time.Hour)
	deck := DefaultDeck()

	driveToVerdictPending(f, 11)
	f.HandlePhoto(11, "proof-1")

	sess, _ := f.Sessions().Get(11)
	if sess.Stage != StageVipGranted || sess.AwaitingVerdict {
		t.Errorf("provisional acceptance did not grant: stage %v", sess.Stage)
	}
	if ft.countTextsContaining(deck.ProvisionalText) != 1 {
		t.Error("provisional acceptance message not sent")
	}
}

func TestVerdictInFlightBlocksSecondSubmission(t *testing.T) {
	oracle := &fakeOracle{verdicts: []verdict.Verdict{{Approved: true}}}
	f, _, _ := newTestFunnel(t, oracle, time.Hour, time.Hour)

	driveToVerdictPending(f, 13)
	sess, _ := f.Sessions().Get(13)
	sess.VerdictInFlight = true

	f.HandlePhoto(13, "proof-1")
	if oracle.callCount() != 0 {
		t.Error("second submission reached the oracle while one was in flight")
	}
}

func TestRestartAfterVipGranted(t *testing.T) {
	oracle := &fakeOracle{verdicts: []verdict.Verdict{{Approved: true}}}
	f, _, sched := newTestFunnel(t, oracle, time.Hour, time.Hour)

	driveToVerdictPending(f, 21)
	f.HandlePhoto(21, "proof-1")

	f.HandleStart(21, "user21", "Cris", "")

	sess, _ := f.Sessions().Get(21)
	if sess.Stage != StageGiftOffered || sess.AwaitingVerdict {
		t.Errorf("restart did not re-enter the funnel: stage %v", sess.Stage)
	}
	if !sched.Outstanding(21, actionConfirmPrompt) {
		t.Error("restart did not arm the confirmation nudge")
	}
}
