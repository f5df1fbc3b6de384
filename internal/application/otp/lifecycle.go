package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-otp-bridge/internal/application/dispatch"
	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/pkg/phone"
	"github.com/go-otp-bridge/internal/pkg/token"
	"github.com/go-otp-bridge/internal/pkg/validate"
)

const (
	registrationTemplate  = "Your verification code: %s\nIt is valid for %d minutes. Do not share it with anyone."
	passwordResetTemplate = "Your password reset code: %s\nIt is valid for %d minutes. If you did not request it, ignore this message."
)

// flow is one way of issuing a session. All flows share issue, so the
// single-session, rollback and cooldown rules live in one place.
type flow struct {
	purpose    string
	channel    string
	dispatcher dispatch.Dispatcher
	template   string
	throttled  bool
}

// draft is everything issue needs besides the flow.
type draft struct {
	email    string
	phone    string
	digits   string
	identity domain.Snapshot
	target   dispatch.Target
}

// contact is a validated email/phone pair with its lookup forms.
type contact struct {
	email      string
	phone      string
	digits     string
	candidates []string
}

func (s *service) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionTicket, error) {
	c, err := s.contact(req)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUnbound(ctx, c); err != nil {
		return nil, err
	}
	ident, err := s.identities.FindActiveByPhoneCandidates(ctx, c.candidates)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("phone %s: %w", phone.Mask(c.phone), domain.ErrMessagingIdentityNotFound)
		}
		return nil, err
	}
	return s.issue(ctx, s.registration, draft{
		email:    c.email,
		phone:    c.phone,
		digits:   c.digits,
		identity: ident.Snapshot(),
		target:   dispatch.Target{ChatHandle: ident.ChatHandle, Phone: c.digits},
	})
}

// CreateSMSSession is the SMS fallback of CreateSession. A messaging identity
// is not required on this channel; when one exists it is still snapshotted.
func (s *service) CreateSMSSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionTicket, error) {
	c, err := s.contact(req)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUnbound(ctx, c); err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	ident, err := s.identities.FindActiveByPhoneCandidates(ctx, c.candidates)
	switch {
	case err == nil:
		snap = ident.Snapshot()
	case !isNotFound(err):
		return nil, err
	}
	return s.issue(ctx, s.smsSignup, draft{
		email:    c.email,
		phone:    c.phone,
		digits:   c.digits,
		identity: snap,
		target:   dispatch.Target{Phone: c.digits},
	})
}

func (s *service) CreatePasswordResetSession(ctx context.Context, req domain.PasswordResetRequest) (*domain.SessionTicket, error) {
	req.MessagingHandle = strings.TrimSpace(req.MessagingHandle)
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	acct, err := s.accounts.FindAccountByMessagingHandle(ctx, req.MessagingHandle)
	if err != nil {
		return nil, err
	}
	ident, err := s.identities.GetByChatHandle(ctx, req.MessagingHandle)
	if err != nil {
		return nil, err
	}
	if !ident.IsActive {
		return nil, fmt.Errorf("chat handle %s inactive: %w", ident.ChatHandle, domain.ErrMessagingIdentityNotFound)
	}
	ph := acct.PhoneNumber
	if ph == "" {
		ph = ident.PhoneNumber
	}
	digits := phone.Canonical(ph, s.cfg.CountryCode)
	ticket, err := s.issue(ctx, s.passwordReset, draft{
		email:    acct.Email,
		phone:    ph,
		digits:   digits,
		identity: ident.Snapshot(),
		target:   dispatch.Target{ChatHandle: ident.ChatHandle, Phone: digits},
	})
	if err != nil {
		return nil, err
	}
	ticket.MaskedEmailHint = maskEmail(acct.Email)
	return ticket, nil
}

// issue replaces any unused session for the email, persists a new one and
// dispatches the code to the canonical phone digits. A failed dispatch deletes the new session again.
func (s *service) issue(ctx context.Context, f flow, d draft) (*domain.SessionTicket, error) {
	if f.throttled {
		if s.cooldown == nil {
			return nil, fmt.Errorf("%s cooldown not configured", f.channel)
		}
		ok, err := s.cooldown.Acquire(ctx, d.digits, s.cfg.SMSCooldown)
		if err != nil {
			return nil, fmt.Errorf("sms cooldown: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("phone %s: %w", phone.Mask(d.phone), domain.ErrRateLimited)
		}
	}

	sess, err := s.newSession(f, d)
	if err != nil {
		s.releaseCooldown(ctx, f, d)
		return nil, err
	}
	if err := s.sessions.Replace(ctx, sess); err != nil {
		s.releaseCooldown(ctx, f, d)
		return nil, err
	}

	msg := fmt.Sprintf(f.template, sess.Code, int(s.cfg.TTL/time.Minute))
	if err := s.send(ctx, f, d.target, msg); err != nil {
		s.rollback(ctx, f, d, sess)
		if !errors.Is(err, domain.ErrDispatchFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrDispatchFailed, err)
		}
		return nil, err
	}

	slog.Info("verification session issued",
		"purpose", f.purpose, "channel", f.channel, "phone", phone.Mask(d.phone))
	return &domain.SessionTicket{
		SessionToken:     sess.SessionToken,
		ExpiresInSeconds: int(s.cfg.TTL / time.Second),
	}, nil
}

func (s *service) newSession(f flow, d draft) (*domain.VerificationSession, error) {
	tok, err := token.NewSessionToken()
	if err != nil {
		return nil, err
	}
	code, err := token.NewCode()
	if err != nil {
		return nil, err
	}
	now := s.now()
	expires := now.Add(s.cfg.TTL)
	return &domain.VerificationSession{
		SessionToken: tok,
		Email:        d.email,
		PhoneNumber:  d.phone,
		PhoneDigits:  d.digits,
		Code:         code,
		Purpose:      f.purpose,
		Channel:      f.channel,
		CreatedAt:    now,
		ExpiresAt:    expires,
		Identity:     d.identity,
		TTL:          expires.Add(time.Hour).Unix(),
	}, nil
}

func (s *service) send(ctx context.Context, f flow, to dispatch.Target, msg string) error {
	if f.dispatcher == nil {
		return fmt.Errorf("%s channel not configured: %w", f.channel, domain.ErrDispatchFailed)
	}
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}
	return f.dispatcher.Send(ctx, to, msg)
}

// rollback deletes an undeliverable session. If that fails too the session
// simply expires, so the error is only logged.
func (s *service) rollback(ctx context.Context, f flow, d draft, sess *domain.VerificationSession) {
	ctx = context.WithoutCancel(ctx)
	if err := s.sessions.Delete(ctx, sess.SessionToken); err != nil {
		slog.Warn("rollback of undelivered session failed",
			"purpose", f.purpose, "channel", f.channel, "phone", phone.Mask(d.phone), "err", err)
	}
	s.releaseCooldown(ctx, f, d)
}

func (s *service) releaseCooldown(ctx context.Context, f flow, d draft) {
	if !f.throttled || s.cooldown == nil {
		return
	}
	if err := s.cooldown.Release(context.WithoutCancel(ctx), d.digits); err != nil {
		slog.Warn("sms cooldown release failed", "phone", phone.Mask(d.phone), "err", err)
	}
}

func (s *service) contact(req domain.CreateSessionRequest) (contact, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if err := checkRequest(req); err != nil {
		return contact{}, err
	}
	return contact{
		email:      req.Email,
		phone:      req.PhoneNumber,
		digits:     phone.Canonical(req.PhoneNumber, s.cfg.CountryCode),
		candidates: phone.Candidates(req.PhoneNumber, s.cfg.CountryCode),
	}, nil
}

// ensureUnbound fails when the email or any phone candidate already belongs
// to an account.
func (s *service) ensureUnbound(ctx context.Context, c contact) error {
	if _, err := s.accounts.FindAccountByEmail(ctx, c.email); err == nil {
		return fmt.Errorf("email %s: %w", c.email, domain.ErrEmailAlreadyRegistered)
	} else if !isNotFound(err) {
		return err
	}
	if _, err := s.accounts.FindAccountByPhoneCandidates(ctx, c.candidates); err == nil {
		return fmt.Errorf("phone %s: %w", phone.Mask(c.phone), domain.ErrPhoneAlreadyRegistered)
	} else if !isNotFound(err) {
		return err
	}
	return nil
}

// checkRequest runs the struct's validate tags and maps the first failing
// field onto the matching domain error.
func checkRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve *validate.Error
	if !errors.As(err, &ve) || len(ve.Fields) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	var kind error
	switch ve.Fields[0] {
	case "email", "new_email":
		kind = domain.ErrInvalidEmail
	case "phone_number":
		kind = domain.ErrInvalidPhone
	case "code":
		kind = domain.ErrInvalidCode
	case "password", "new_password":
		kind = domain.ErrInvalidPassword
	case "session_token":
		kind = domain.ErrSessionNotFound
	default:
		kind = domain.ErrBadRequest
	}
	return fmt.Errorf("%w: %s", kind, ve.Error())
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrAccountNotFound) ||
		errors.Is(err, domain.ErrMessagingIdentityNotFound) ||
		errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrNotFound)
}

// maskEmail keeps the first two characters of the local part and of the
// domain name: john@example.com -> jo***@ex***.com.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	local, host := email[:at], email[at+1:]
	name, tld := host, ""
	if dot := strings.LastIndex(host, "."); dot > 0 {
		name, tld = host[:dot], host[dot:]
	}
	return prefix(local, 2) + "***@" + prefix(name, 2) + "***" + tld
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		n = len(r)
	}
	return string(r[:n])
}
