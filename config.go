package giftfunnel

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the read-only wiring for one bot process. Values come from
// the environment (cmd/giftfunnel loads .env first).
type Config struct {
	TelegramToken string

	OpenAIKey   string
	OpenAIModel string

	// Acceptance criteria for deposit screenshots.
	MinDeposit     float64
	RequiredStatus string
	ValidationMode string // "today" or "after_chat"
	TZOffsetHours  int

	ConfirmWait time.Duration
	VipWait     time.Duration

	CachePath string
	StorePath string
	DeckPath  string
	AudioPath string

	// Overrides maps slot names to operator-supplied file handles that
	// bypass the cache entirely.
	Overrides map[string]string
}

// ConfigFromEnv reads the process configuration. Only the Telegram token
// is mandatory; without an OpenAI key the verdict oracle runs in
// provisional-acceptance mode.
func ConfigFromEnv() (Config, error) {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return Config{}, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg := Config{
		TelegramToken:  token,
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		MinDeposit:     envFloat("MIN_DEPOSIT_VALUE", 35),
		RequiredStatus: envString("REQUIRED_STATUS", "Completed"),
		ValidationMode: envString("VALIDATION_MODE", "today"),
		TZOffsetHours:  envInt("TZ_OFFSET_HOURS", -3),
		ConfirmWait:    envSeconds("CONFIRM_WAIT_SECONDS", 120*time.Second),
		VipWait:        envSeconds("VIP_WAIT_SECONDS", 7*time.Minute),
		CachePath:      envString("FILE_ID_CACHE_PATH", "file_ids.json"),
		StorePath:      envString("DB_PATH", "bot_data.sqlite"),
		DeckPath:       os.Getenv("COPY_DECK_PATH"),
		AudioPath:      envString("AUDIO_PATH", "Audio.mp3"),
		Overrides:      overridesFromEnv(),
	}
	return cfg, nil
}

// Operators seed well-known slots straight from the environment; video
// slots accept a zero-padded alias.
func overridesFromEnv() map[string]string {
	overrides := map[string]string{}

	set := func(slot string, names ...string) {
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				overrides[slot] = v
				return
			}
		}
	}

	set(slotAudio, "FILE_ID_AUDIO")
	set(slotVipAudio, "FILE_ID_AUDIO_VIP")
	for i := 1; i <= 3; i++ {
		set(fmt.Sprintf("video%d", i),
			fmt.Sprintf("FILE_ID_VIDEO%d", i),
			fmt.Sprintf("FILE_ID_VIDEO0%d", i))
	}
	return overrides
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(name string, fallback float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
