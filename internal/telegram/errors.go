package telegram

import (
	"context"
	"errors"

	"github.com/gotd/td/tgerr"
)

var (
	// ErrChannelNotFound indicates the identifier does not resolve to any channel.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelPrivate indicates the channel exists but is not publicly readable.
	ErrChannelPrivate = errors.New("channel is private")
	// ErrNotConfigured indicates the adapter was built without API credentials.
	ErrNotConfigured = errors.New("telegram api is not configured")
)

// notFoundCodes are RPC error types meaning the username cannot resolve to a
// public channel.
var notFoundCodes = []string{
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"PEER_ID_INVALID",
	"CHANNEL_INVALID",
}

// permanentCodes never succeed on retry.
var permanentCodes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"API_ID_INVALID",
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case tgerr.Is(err, notFoundCodes...):
		return errors.Join(ErrChannelNotFound, err)
	case tgerr.Is(err, "CHANNEL_PRIVATE"):
		return errors.Join(ErrChannelPrivate, err)
	default:
		return err
	}
}

// IsRateLimited reports whether the error is a server flood-wait that
// survived the waiter middleware's cap.
func IsRateLimited(err error) bool {
	_, ok := tgerr.AsFloodWait(err)
	return ok
}

// isPermanent reports whether the error must not be retried.
func isPermanent(err error) bool {
	if errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrChannelPrivate) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return tgerr.Is(err, permanentCodes...)
}
