// Package dispatch delivers one-time codes over an out-of-band channel.
package dispatch

import (
	"context"
	"fmt"

	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/pkg/phone"
)

// Target identifies the recipient on whichever channel is used.
type Target struct {
	ChatHandle string
	Phone      string
}

// Dispatcher sends a message to a target. Any error wraps domain.ErrDispatchFailed.
type Dispatcher interface {
	Send(ctx context.Context, to Target, message string) error
}

// MessageSender is the bot platform's send-message call.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string, markup any) error
}

// SMSSender is an SMS gateway's send call.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneDigits, text string) error
}

// Bot pushes messages to a chat handle through the bot API.
type Bot struct {
	sender MessageSender
}

func NewBot(sender MessageSender) *Bot {
	return &Bot{sender: sender}
}

func (d *Bot) Send(ctx context.Context, to Target, message string) error {
	if to.ChatHandle == "" {
		return fmt.Errorf("bot push: no chat handle: %w", domain.ErrDispatchFailed)
	}
	if err := d.sender.SendMessage(ctx, to.ChatHandle, message, nil); err != nil {
		return fmt.Errorf("bot push: %w: %w", domain.ErrDispatchFailed, err)
	}
	return nil
}

// SMS pushes messages to a phone number through an SMS gateway.
type SMS struct {
	sender SMSSender
}

func NewSMS(sender SMSSender) *SMS {
	return &SMS{sender: sender}
}

func (d *SMS) Send(ctx context.Context, to Target, message string) error {
	digits := phone.Digits(to.Phone)
	if !phone.Valid(digits) {
		return fmt.Errorf("sms push: bad phone: %w", domain.ErrDispatchFailed)
	}
	if err := d.sender.SendSMS(ctx, digits, message); err != nil {
		return fmt.Errorf("sms push: %w: %w", domain.ErrDispatchFailed, err)
	}
	return nil
}
