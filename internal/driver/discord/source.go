package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

const defaultUpdateBuffer = 256

// gatewaySession is the subset of *discordgo.Session used to stream dispatches.
type gatewaySession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// GatewaySource streams gateway dispatches from a discordgo session.
//
// discordgo invokes handlers on their own goroutines; GatewaySource funnels
// them through one bounded channel so updates reach the handler in a single
// sequence.
type GatewaySource struct {
	session gatewaySession
	buffer  int
	logger  *slog.Logger
	now     func() time.Time
}

// NewGatewaySource creates a gateway source over session.
func NewGatewaySource(session gatewaySession, buffer int, logger *slog.Logger) (*GatewaySource, error) {
	if session == nil {
		return nil, fmt.Errorf("new discord gateway source: nil session")
	}
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GatewaySource{
		session: session,
		buffer:  buffer,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Consume opens the gateway and feeds updates to handler until ctx ends.
// Handler errors are logged and do not stop consumption.
func (s *GatewaySource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume discord gateway: nil handler")
	}

	updates := make(chan Update, s.buffer)
	push := func(update Update) {
		update.ReceivedAt = s.now()
		select {
		case updates <- update:
		case <-ctx.Done():
		}
	}

	removers := []func(){
		s.session.AddHandler(func(_ *discordgo.Session, event *discordgo.Ready) {
			push(Update{Type: UpdateTypeReady, Ready: event})
		}),
		s.session.AddHandler(func(_ *discordgo.Session, event *discordgo.MessageCreate) {
			push(Update{Type: UpdateTypeMessageCreate, MessageCreate: event})
		}),
		s.session.AddHandler(func(_ *discordgo.Session, event *discordgo.MessageUpdate) {
			push(Update{Type: UpdateTypeMessageUpdate, MessageUpdate: event})
		}),
		s.session.AddHandler(func(_ *discordgo.Session, event *discordgo.MessageDelete) {
			push(Update{Type: UpdateTypeMessageDelete, MessageDelete: event})
		}),
	}
	defer func() {
		for _, remove := range removers {
			remove()
		}
	}()

	if err := s.session.Open(); err != nil {
		return fmt.Errorf("consume discord gateway: open session: %w", err)
	}
	defer func() {
		if err := s.session.Close(); err != nil {
			s.logger.Warn("discord gateway close failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if err := handler(ctx, update); err != nil {
				s.logger.WarnContext(ctx, "discord update handling failed",
					"update_type", update.Type,
					"error", err,
				)
			}
		}
	}
}
