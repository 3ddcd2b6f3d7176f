// Package gate checks that a user is subscribed to every mandatory channel.
package gate

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// CheckCallback is the callback data of the "re-check" button.
const CheckCallback = "check_subscribe"

// MemberLookup is the part of *tgbotapi.BotAPI the gate needs.
type MemberLookup interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// NotSubscribedError reports the first channel that failed the check.
// Err is set when the lookup itself failed; the gate fails closed in that case.
type NotSubscribedError struct {
	Channel string
	Status  string
	Err     error
}

func (e *NotSubscribedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("membership lookup in %s failed: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("user is %q in %s", e.Status, e.Channel)
}

func (e *NotSubscribedError) Unwrap() error { return e.Err }

type Gate struct {
	api      MemberLookup
	channels []string
	log      zerolog.Logger
}

func New(api MemberLookup, channels []string, log zerolog.Logger) *Gate {
	return &Gate{
		api:      api,
		channels: append([]string(nil), channels...),
		log:      log.With().Str("component", "gate").Logger(),
	}
}

func (g *Gate) Channels() []string {
	return append([]string(nil), g.channels...)
}

// Check returns nil when userID is a member, administrator or creator of every
// channel. Channels are checked in order and the first failure stops the check.
// Nothing is cached.
func (g *Gate) Check(ctx context.Context, userID int64) error {
	for _, ch := range g.channels {
		if err := ctx.Err(); err != nil {
			return &NotSubscribedError{Channel: ch, Err: err}
		}
		member, err := g.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
				SuperGroupUsername: ch,
				UserID:             userID,
			},
		})
		if err != nil {
			g.log.Warn().Err(err).Int64("user_id", userID).Str("channel", ch).Msg("membership lookup failed")
			return &NotSubscribedError{Channel: ch, Err: err}
		}
		if !Subscribed(member.Status) {
			g.log.Debug().Int64("user_id", userID).Str("channel", ch).Str("status", member.Status).Msg("not subscribed")
			return &NotSubscribedError{Channel: ch, Status: member.Status}
		}
	}
	return nil
}

// Subscribed reports whether a chat member status counts as subscribed.
func Subscribed(status string) bool {
	switch status {
	case "creator", "administrator", "member":
		return true
	}
	return false
}
