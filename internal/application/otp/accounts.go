package otp

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/pkg/phone"
	"github.com/go-otp-bridge/internal/pkg/validate"
)

// CompleteRegistration consumes a registration session and creates the
// account from its snapshot.
func (s *service) CompleteRegistration(ctx context.Context, req domain.RegistrationRequest) (*domain.Account, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	sess, _, err := s.verify(ctx, req.SessionToken, req.Code, true, domain.PurposeRegistration)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = sess.Identity.DisplayName
	}
	acct, err := s.accounts.CreateAccount(ctx, domain.NewAccount{
		Email:           sess.Email,
		PhoneNumber:     phone.NormalizeE164(phone.Canonical(sess.PhoneNumber, s.cfg.CountryCode)),
		MessagingHandle: sess.Identity.IdentityID,
		DisplayName:     name,
		Password:        req.Password,
	})
	if err != nil {
		slog.Error("account creation failed after session consumed",
			"email", sess.Email, "phone", phone.Mask(sess.PhoneNumber), "err", err)
		return nil, err
	}
	return acct, nil
}

// ConfirmPasswordReset consumes a password-reset session, applies the new
// password and then, optionally, a new email. A rejected email change does not
// undo the password change; it is reported in EmailError.
func (s *service) ConfirmPasswordReset(ctx context.Context, req domain.PasswordResetConfirmRequest) (*domain.PasswordResetResult, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	_, acct, err := s.verify(ctx, req.SessionToken, req.Code, true, domain.PurposePasswordReset)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdatePassword(ctx, acct.UserID, req.NewPassword); err != nil {
		slog.Error("password update failed after session consumed", "user_id", acct.UserID, "err", err)
		return nil, err
	}

	res := &domain.PasswordResetResult{PasswordChanged: true}
	if req.NewEmail == nil {
		return res, nil
	}
	email := strings.ToLower(strings.TrimSpace(*req.NewEmail))
	if email == "" || email == strings.ToLower(acct.Email) {
		return res, nil
	}
	if err := s.changeEmail(ctx, acct, email); err != nil {
		res.EmailError = domain.CodeOf(err)
		slog.Warn("password reset applied without email change",
			"user_id", acct.UserID, "reason", res.EmailError, "err", err)
		return res, nil
	}
	res.EmailChanged = true
	return res, nil
}

func (s *service) changeEmail(ctx context.Context, acct *domain.Account, email string) error {
	if !validate.Email(email) {
		return domain.ErrInvalidEmail
	}
	other, err := s.accounts.FindAccountByEmail(ctx, email)
	switch {
	case err == nil && other.UserID != acct.UserID:
		return domain.ErrEmailTaken
	case err != nil && !isNotFound(err):
		return err
	}
	return s.accounts.UpdateEmail(ctx, acct.UserID, email)
}
