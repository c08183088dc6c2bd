package discord

import (
	"context"
	"errors"
	"net/http"

	"kagami/pkg/kagami"

	"github.com/bwmarrin/discordgo"
)

func mapDiscordOutboundError(operation kagami.OutboundOperation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kagami.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &kagami.OutboundError{
		Operation: operation,
		Kind:      kagami.OutboundErrorKindUnknown,
		Platform:  DriverPlatform,
		Cause:     err,
	}

	var rateLimitErr *discordgo.RateLimitError
	if errors.As(err, &rateLimitErr) {
		outboundErr.Kind = kagami.OutboundErrorKindRateLimited
		outboundErr.Status = http.StatusTooManyRequests
		if rateLimitErr.RateLimit != nil && rateLimitErr.TooManyRequests != nil {
			outboundErr.RetryAfter = rateLimitErr.RetryAfter
		}

		return outboundErr
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Response != nil {
			outboundErr.Status = restErr.Response.StatusCode
		}
		if restErr.Message != nil {
			outboundErr.Code = restErr.Message.Code
		}
		outboundErr.Kind = classifyDiscordRESTError(outboundErr.Status, outboundErr.Code)

		return outboundErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		outboundErr.Kind = kagami.OutboundErrorKindTemporary
	}

	return outboundErr
}

func classifyDiscordRESTError(status int, code int) kagami.OutboundErrorKind {
	switch code {
	case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownWebhook:
		return kagami.OutboundErrorKindNotFound
	}

	switch {
	case status == http.StatusTooManyRequests:
		return kagami.OutboundErrorKindRateLimited
	case status == http.StatusNotFound:
		return kagami.OutboundErrorKindNotFound
	case status >= 500:
		return kagami.OutboundErrorKindTemporary
	case status >= 400:
		return kagami.OutboundErrorKindPermanent
	default:
		return kagami.OutboundErrorKindUnknown
	}
}
