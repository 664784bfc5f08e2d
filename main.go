package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"chatrelay/internal/api"
	"chatrelay/internal/config"
	"chatrelay/internal/provider"
	"chatrelay/internal/relay"
)

func main() {
	// Missing .env is fine; the config file and real environment still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CHATRELAY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	name := cfg.DefaultProvider
	pc := cfg.Providers[name]

	// The environment overrides the file so the credential can stay out of
	// version control.
	apiKey := pc.APIKey
	if envKey := os.Getenv("CHATRELAY_API_KEY"); envKey != "" {
		apiKey = envKey
	}

	var model provider.ChatModel
	if apiKey == "" {
		log.Printf("no API key configured for provider %s; /chat will report ServerMisconfigured", name)
	} else {
		model, err = provider.New(context.Background(), name, provider.Config{
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		}, apiKey)
		if err != nil {
			log.Printf("init provider %s: %v; /chat will report ServerMisconfigured", name, err)
			model = nil
		}
	}

	service := relay.NewService(model, apiKey, cfg.BasicConfig.UpstreamTimeout())

	router := gin.Default()
	api.NewHandler(service).RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	log.Printf("chat relay listening on %s (provider %s, model %s)", addr, name, pc.Model)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
