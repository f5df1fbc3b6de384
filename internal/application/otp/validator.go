package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/pkg/phone"
)

func (s *service) Status(ctx context.Context, sessionToken string) (string, error) {
	sess, err := s.sessions.Get(ctx, sessionToken)
	if err != nil {
		return "", err
	}
	return sess.Status(s.now()), nil
}

func (s *service) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerificationResult, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	sess, _, err := s.verify(ctx, req.SessionToken, req.Code, req.Consume, domain.PurposeRegistration)
	if err != nil {
		return nil, err
	}
	return result(sess, req.Consume), nil
}

// verify runs the session state machine. The order of the checks is part of
// the contract: lookup, expiry, usage, attempt cap, attempt increment, code
// comparison, binding re-check, then consumption. A session issued for another
// purpose is reported as not found, before any attempt is counted.
//
// For password-reset sessions the target account is returned as well.
func (s *service) verify(ctx context.Context, sessionToken, code string, consume bool, purpose string) (*domain.VerificationSession, *domain.Account, error) {
	sess, err := s.sessions.Get(ctx, sessionToken)
	if err != nil {
		return nil, nil, err
	}
	if sess.Purpose != purpose {
		return nil, nil, fmt.Errorf("session purpose %s: %w", sess.Purpose, domain.ErrSessionNotFound)
	}
	if sess.Expired(s.now()) {
		return nil, nil, domain.ErrSessionExpired
	}
	if sess.IsUsed {
		return nil, nil, domain.ErrSessionAlreadyUsed
	}
	if sess.Attempts >= s.cfg.MaxAttempts {
		return nil, nil, domain.ErrTooManyAttempts
	}

	counted, err := s.sessions.IncrementAttempts(ctx, sessionToken, s.cfg.MaxAttempts)
	if err != nil {
		return nil, nil, err
	}
	if subtle.ConstantTimeCompare([]byte(sess.Code), []byte(code)) != 1 {
		return nil, nil, &domain.AttemptsError{Remaining: max(s.cfg.MaxAttempts-counted.Attempts, 0)}
	}

	acct, err := s.recheckBindings(ctx, sess)
	if err != nil {
		return nil, nil, err
	}

	if consume {
		if err := s.sessions.Consume(ctx, sessionToken); err != nil {
			return nil, nil, err
		}
		sess.IsUsed = true
		sess.IsVerified = true
	} else if !sess.IsVerified {
		if err := s.sessions.MarkVerified(ctx, sessionToken); err != nil {
			return nil, nil, err
		}
		sess.IsVerified = true
	}
	sess.Attempts = counted.Attempts
	return sess, acct, nil
}

// recheckBindings repeats the creation-time uniqueness checks, since an
// account may have been bound between creation and verification. A failure
// leaves the session unconsumed.
func (s *service) recheckBindings(ctx context.Context, sess *domain.VerificationSession) (*domain.Account, error) {
	if sess.Purpose == domain.PurposePasswordReset {
		acct, err := s.accounts.FindAccountByMessagingHandle(ctx, sess.Identity.IdentityID)
		if err != nil {
			return nil, err
		}
		return acct, nil
	}

	if sess.Identity.IdentityID != "" {
		if _, err := s.accounts.FindAccountByMessagingHandle(ctx, sess.Identity.IdentityID); err == nil {
			slog.Warn("messaging identity bound during verification", "chat_handle", sess.Identity.IdentityID)
			return nil, domain.ErrIdentityAlreadyRegistered
		} else if !isNotFound(err) {
			return nil, err
		}
	}
	candidates := phone.Candidates(sess.PhoneNumber, s.cfg.CountryCode)
	if _, err := s.accounts.FindAccountByPhoneCandidates(ctx, candidates); err == nil {
		slog.Warn("phone bound during verification", "phone", phone.Mask(sess.PhoneNumber))
		return nil, domain.ErrIdentityAlreadyRegistered
	} else if !isNotFound(err) {
		return nil, err
	}
	if _, err := s.accounts.FindAccountByEmail(ctx, sess.Email); err == nil {
		return nil, fmt.Errorf("email %s: %w", sess.Email, domain.ErrEmailAlreadyRegistered)
	} else if !isNotFound(err) {
		return nil, err
	}
	return nil, nil
}

func result(sess *domain.VerificationSession, consumed bool) *domain.VerificationResult {
	status := domain.StatusVerified
	if consumed {
		status = domain.StatusUsed
	}
	return &domain.VerificationResult{
		Status:      status,
		Purpose:     sess.Purpose,
		Email:       sess.Email,
		PhoneNumber: sess.PhoneNumber,
		Consumed:    consumed,
		Identity:    sess.Identity,
	}
}
