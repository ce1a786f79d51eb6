package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/archon-research/starknet-relay/internal/pkg/env"
)

// appConfig is the relay configuration read from the environment.
type appConfig struct {
	ApibaraURL      string
	ApibaraToken    string
	ApibaraInsecure bool
	ProviderURL     string
	WebsocketPort   int
	HealthAddr      string
	ReconnectDelay  time.Duration
	OTLPEndpoint    string
	Environment     string
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		ApibaraURL:   env.Get("APIBARA_URL", "sepolia.starknet.a5a.ch:443"),
		ApibaraToken: env.Get("APIBARA_TOKEN", ""),
		ProviderURL:  env.Get("PROVIDER_URL", ""),
		HealthAddr:   env.Get("HEALTH_ADDR", ""),
		OTLPEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Environment:  env.Get("ENVIRONMENT", "development"),
	}

	var err error
	if cfg.ApibaraInsecure, err = env.GetBool("APIBARA_INSECURE", false); err != nil {
		return appConfig{}, err
	}
	if cfg.WebsocketPort, err = env.GetInt("WEBSOCKET_PORT", 3003); err != nil {
		return appConfig{}, err
	}
	if cfg.ReconnectDelay, err = env.GetDuration("RECONNECT_DELAY", time.Second); err != nil {
		return appConfig{}, err
	}

	if cfg.ProviderURL == "" {
		return appConfig{}, errors.New("PROVIDER_URL is required")
	}
	if cfg.WebsocketPort < 0 || cfg.WebsocketPort > 65535 {
		return appConfig{}, fmt.Errorf("invalid WEBSOCKET_PORT: %d", cfg.WebsocketPort)
	}
	if cfg.ReconnectDelay < 0 {
		return appConfig{}, fmt.Errorf("invalid RECONNECT_DELAY: %v", cfg.ReconnectDelay)
	}
	return cfg, nil
}

func (c appConfig) websocketAddr() string {
	return fmt.Sprintf(":%d", c.WebsocketPort)
}
