package giftfunnel

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDeckOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.yaml")
	override := []byte(`
greeting: "Hello from the campaign"
register_link: "https://example.com/other"
buttons:
  yes: "OK!"
`)
	if err := os.WriteFile(path, override, 0644); err != nil {
		t.Fatal(err)
	}

	deck, err := LoadDeck(path)
	if err != nil {
		t.Fatal(err)
	}
	if deck.Greeting != "Hello from the campaign" {
		t.Errorf("greeting = %q", deck.Greeting)
	}
	if deck.RegisterLink != "https://example.com/other" {
		t.Errorf("register link = %q", deck.RegisterLink)
	}
	if deck.Buttons.Yes != "OK!" {
		t.Errorf("yes button = %q", deck.Buttons.Yes)
	}

	// untouched fields keep their defaults
	if deck.ConfirmPrompt != DefaultDeck().ConfirmPrompt {
		t.Errorf("confirm prompt lost its default: %q", deck.ConfirmPrompt)
	}
}

func TestLoadDeckEmptyPath(t *testing.T) {
	deck, err := LoadDeck("")
	if err != nil {
		t.Fatal(err)
	}
	if deck.Greeting == "" || deck.Buttons.CreateAccount == "" {
		t.Error("default deck is missing copy")
	}
}

func TestLoadDeckMissingFileFallsBack(t *testing.T) {
	deck, err := LoadDeck(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected an error for a missing deck file")
	}
	if deck.Greeting != DefaultDeck().Greeting {
		t.Error("missing file did not fall back to defaults")
	}
}

func TestDeepLink(t *testing.T) {
	link := DeepLink("gift_funnel_bot", "summer promo")
	want := "https://t.me/gift_funnel_bot?start=summer+promo"
	if link != want {
		t.Errorf("DeepLink() = %q, want %q", link, want)
	}
}
