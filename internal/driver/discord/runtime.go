package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultTokenEnv = "DISCORD_TOKEN"
	// defaultMessageCacheSize is how many recent messages per channel the
	// session state keeps so edit dispatches carry the previous text.
	defaultMessageCacheSize = 100
)

// ErrMissingToken reports that the configured token variable is unset or empty.
var ErrMissingToken = errors.New("discord: missing bot token")

// gatewayIntents are the dispatches the bot needs: guild and direct
// messages with their content, plus guilds so state tracks channels.
const gatewayIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

type runtimeConfig struct {
	TokenEnv         string `json:"token_env"`
	PublishTimeout   string `json:"publish_timeout"`
	RequestTimeout   string `json:"request_timeout"`
	UpdateBuffer     int    `json:"update_buffer"`
	MessageCacheSize *int   `json:"message_cache_size"`
}

type parsedRuntimeConfig struct {
	tokenEnv         string
	publishTimeout   time.Duration
	requestTimeout   time.Duration
	updateBuffer     int
	messageCacheSize int
}

// BuildRuntimeFromConfig builds the Discord driver and its outbound
// dispatcher from a JSON config payload. The bot token is read from the
// environment variable named by token_env.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (*Driver, *Outbound, error) {
	return buildRuntime(name, logger, rawConfig, os.Getenv)
}

func buildRuntime(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
	getenv func(string) string,
) (*Driver, *Outbound, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("parse discord runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	token := strings.TrimSpace(getenv(cfg.tokenEnv))
	if token == "" {
		return nil, nil, fmt.Errorf("%w: environment variable %s is empty", ErrMissingToken, cfg.tokenEnv)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, nil, fmt.Errorf("new discord session: %w", err)
	}
	session.Identify.Intents = gatewayIntents
	session.State.MaxMessageCount = cfg.messageCacheSize

	identity := NewIdentity()
	source, err := NewGatewaySource(session, cfg.updateBuffer, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("new discord gateway source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(identity),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "discord driver async error", "error", err)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("new discord driver: %w", err)
	}

	outbound, err := NewOutbound(
		session,
		WithRequestTimeout(cfg.requestTimeout),
		WithOutboundLogger(logger),
		WithOutboundIdentity(identity),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("new discord outbound: %w", err)
	}

	return driver, outbound, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	cfg := parsedRuntimeConfig{
		tokenEnv:         defaultTokenEnv,
		publishTimeout:   defaultPublishTimeout,
		requestTimeout:   defaultRequestTimeout,
		updateBuffer:     defaultUpdateBuffer,
		messageCacheSize: defaultMessageCacheSize,
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	if tokenEnv := strings.TrimSpace(parsed.TokenEnv); tokenEnv != "" {
		cfg.tokenEnv = tokenEnv
	}
	if parsed.UpdateBuffer < 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("update_buffer must be >= 0")
	}
	if parsed.UpdateBuffer > 0 {
		cfg.updateBuffer = parsed.UpdateBuffer
	}
	if parsed.MessageCacheSize != nil {
		if *parsed.MessageCacheSize < 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("message_cache_size must be >= 0")
		}
		cfg.messageCacheSize = *parsed.MessageCacheSize
	}

	var err error
	if cfg.publishTimeout, err = parseOptionalDuration("publish_timeout", parsed.PublishTimeout, cfg.publishTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.requestTimeout, err = parseOptionalDuration("request_timeout", parsed.RequestTimeout, cfg.requestTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}

	return cfg, nil
}

func parseOptionalDuration(field string, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", field)
	}

	return parsed, nil
}
