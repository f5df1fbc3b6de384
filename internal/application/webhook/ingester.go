// Package webhook binds bot chat identities to phone numbers from inbound
// platform updates.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/infrastructure/telegram"
	"github.com/go-otp-bridge/internal/pkg/phone"
)

const (
	startText = "Welcome! To verify your phone number, tap \"Share phone number\" below.\n" +
		"Then return to the app and request your verification code."
	shareLabel   = "Share phone number"
	linkedText   = "Thank you! Your phone number is linked. You can now request a verification code in the app."
	ownOnlyText  = "Please share your own phone number using the button below."
	badPhoneText = "This phone number could not be read. Please try again using the button below."
	hintText     = "Send /start and share your phone number to link this chat."
)

// Registry is the write side of the messaging identity store.
type Registry interface {
	UpsertProfile(ctx context.Context, m *domain.MessagingIdentity) error
	UpsertPhone(ctx context.Context, chatHandle, phoneNumber string) error
}

// Replier sends chat replies.
type Replier interface {
	SendMessage(ctx context.Context, chatID, text string, markup any) error
}

// Ingester handles bot updates. Every mutation is an upsert keyed by chat
// handle, so redelivered updates are harmless.
type Ingester struct {
	registry Registry
	replier  Replier
}

func NewIngester(registry Registry, replier Replier) *Ingester {
	return &Ingester{registry: registry, replier: replier}
}

// Handle processes one update. Registry failures are returned so the platform
// redelivers; reply failures are only logged.
func (i *Ingester) Handle(ctx context.Context, upd telegram.Update) error {
	msg := upd.Message
	if msg == nil || msg.Chat.ID == 0 {
		return nil
	}
	chat := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case msg.Contact != nil:
		return i.handleContact(ctx, chat, msg)
	case isStart(msg.Text):
		return i.handleStart(ctx, chat, msg)
	default:
		i.reply(ctx, chat, hintText, nil)
		return nil
	}
}

func (i *Ingester) handleStart(ctx context.Context, chat string, msg *telegram.Message) error {
	m := &domain.MessagingIdentity{ChatHandle: chat}
	if msg.From != nil {
		m.Username = msg.From.Username
		m.DisplayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	if err := i.registry.UpsertProfile(ctx, m); err != nil {
		return fmt.Errorf("upsert profile for chat %s: %w", chat, err)
	}
	i.reply(ctx, chat, startText, telegram.ContactRequestKeyboard(shareLabel))
	return nil
}

func (i *Ingester) handleContact(ctx context.Context, chat string, msg *telegram.Message) error {
	c := msg.Contact
	if msg.From == nil || c.UserID == 0 || c.UserID != msg.From.ID {
		i.reply(ctx, chat, ownOnlyText, telegram.ContactRequestKeyboard(shareLabel))
		return nil
	}
	normalized := phone.NormalizeE164(c.PhoneNumber)
	if !phone.Valid(normalized) {
		i.reply(ctx, chat, badPhoneText, telegram.ContactRequestKeyboard(shareLabel))
		return nil
	}
	if err := i.registry.UpsertPhone(ctx, chat, normalized); err != nil {
		return fmt.Errorf("upsert phone for chat %s: %w", chat, err)
	}
	slog.Info("messaging identity phone linked", "chat_handle", chat, "phone", phone.Mask(normalized))
	i.reply(ctx, chat, linkedText, telegram.ReplyKeyboardRemove{RemoveKeyboard: true})
	return nil
}

func (i *Ingester) reply(ctx context.Context, chat, text string, markup any) {
	if err := i.replier.SendMessage(ctx, chat, text, markup); err != nil {
		slog.Warn("webhook reply failed", "chat_handle", chat, "err", err)
	}
}

// isStart matches "/start", "/start payload" and "/start@botname".
func isStart(text string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start"
}
