package giftfunnel

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Deck holds every piece of copy the funnel sends: texts, captions,
// button labels and outbound links. Defaults are built in; a YAML file
// can override any subset for a campaign without a rebuild.
type Deck struct {
	RegisterLink  string `yaml:"register_link"`
	CommunityLink string `yaml:"community_link"`
	VipLink       string `yaml:"vip_link"`

	Img1URL string `yaml:"img1_url"`
	Img2URL string `yaml:"img2_url"`

	Greeting      string `yaml:"greeting"`
	TeaserCaption string `yaml:"teaser_caption"`
	OfferCaption  string `yaml:"offer_caption"`
	ConfirmPrompt string `yaml:"confirm_prompt"`
	UnlockCaption string `yaml:"unlock_caption"`
	VipHook       string `yaml:"vip_hook"`

	// VipIntro is a format string taking the user's first name.
	VipIntro        string `yaml:"vip_intro"`
	VipAudioCaption string `yaml:"vip_audio_caption"`
	GatePrompt      string `yaml:"gate_prompt"`
	GateReminder    string `yaml:"gate_reminder"`
	PrintNudge      string `yaml:"print_nudge"`
	DepositNudge    string `yaml:"deposit_nudge"`
	RejectedPrefix  string `yaml:"rejected_prefix"`
	ApprovedText    string `yaml:"approved_text"`
	ProvisionalText string `yaml:"provisional_text"`
	ResendPhotoText string `yaml:"resend_photo_text"`

	Buttons DeckButtons `yaml:"buttons"`
}

type DeckButtons struct {
	CreateAccount string `yaml:"create_account"`
	Yes           string `yaml:"yes"`
	OpenCommunity string `yaml:"open_community"`
	OpenVip       string `yaml:"open_vip"`
	VipAccept     string `yaml:"vip_accept"`
	VipExplain    string `yaml:"vip_explain"`
	SendPrint     string `yaml:"send_print"`
	MakeDeposit   string `yaml:"make_deposit"`
}

func DefaultDeck() Deck {
	return Deck{
		RegisterLink:  "https://example.com/register",
		CommunityLink: "https://t.me/+community",
		VipLink:       "https://t.me/+vip",

		Img1URL: "https://example.com/gift-waiting.png",
		Img2URL: "https://example.com/gift-unlocked.png",

		Greeting:      "⏳ Getting your gift ready…",
		TeaserCaption: "🔊 A quick message before we continue",
		OfferCaption: "🎁 *Your gift is waiting…*\n\n" +
			"Tap the button below to open your account and claim it.",
		ConfirmPrompt: "Hey, did you manage to finish creating your account?",
		UnlockCaption: "🎁 *Gift unlocked!*\n\n" +
			"Join the community and look for the giveaway post —\n" +
			"the result goes out on *TODAY's* live.",
		VipHook: "Want to lock in your *VIP* spot right now?",

		VipIntro: "Hey %s!\n\nReady to claim your *VIP spot* + a *wheel spin*, " +
			"or would you rather I explain how it works first?",
		VipAudioCaption: "🔊 Quick explanation (1 min)",
		GatePrompt: "Everyone who joined *walked away with a great prize* — " +
			"they chose to play in the group with *extra access*!\n\n" +
			"Send me a *screenshot of your account* (showing the *deposit details*) " +
			"with the minimum deposited *today* and I'll unlock your wheel access, ok?",
		GateReminder: "Hey, still there? There's at least *$500* raffled between 10 people " +
			"plus one *wheel spin* that can land you a top prize *TODAY!*\n\n" +
			"_Only a few people competing…_\n\n" +
			"Are you really walking away from your VIP spot?",
		PrintNudge:   "Perfect! Send me the *deposit screenshot* now and I'll unlock your VIP. 📸",
		DepositNudge: "As soon as the deposit is done, send me the *screenshot* and I'll unlock your VIP. 👍",
		RejectedPrefix: "Almost there — I couldn't approve this screenshot yet:\n",
		ApprovedText: "✅ *Approved!* Your VIP access is unlocked — tap below to get in.",
		ProvisionalText: "I couldn't validate the screenshot right now, so I'm " +
			"accepting it provisionally. Your VIP access is unlocked — tap below.",
		ResendPhotoText: "⚠️ I couldn't read that image. Try sending it again as a *photo* (not a file).",

		Buttons: DeckButtons{
			CreateAccount: "🟢 Create account now",
			Yes:           "✅ YES",
			OpenCommunity: "🚀 Join the community",
			OpenVip:       "🟣 Access VIP",
			VipAccept:     "✅ Lock in my spot",
			VipExplain:    "ℹ️ Explain it first",
			SendPrint:     "🖼️ SCREENSHOT = UNLOCK VIP",
			MakeDeposit:   "💳 MAKE A DEPOSIT",
		},
	}
}

// LoadDeck returns the default deck overlaid with the YAML file at path.
// An empty path returns the defaults.
func LoadDeck(path string) (Deck, error) {
	deck := DefaultDeck()
	if path == "" {
		return deck, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return deck, fmt.Errorf("failed to read copy deck: %w", err)
	}
	if err := yaml.Unmarshal(raw, &deck); err != nil {
		return deck, fmt.Errorf("failed to parse copy deck: %w", err)
	}
	return deck, nil
}

// DeepLink builds a t.me start link carrying a tracking parameter.
func DeepLink(botUserName, startParam string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUserName, url.QueryEscape(startParam))
}
