package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/giftfunnel/giftfunnel"
)

func main() {
	_ = godotenv.Load()

	cfg, err := giftfunnel.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	bot, err := giftfunnel.New(cfg)
	if err != nil {
		log.Fatalf("failed to start bot: %v", err)
	}

	log.Println("Gift funnel bot running; VIP gate armed.")
	bot.Run()
}
