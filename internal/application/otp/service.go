// Package otp issues and consumes one-time verification sessions that bind a
// phone number and a messaging identity to an account action.
package otp

import (
	"context"
	"time"

	"github.com/go-otp-bridge/internal/application/dispatch"
	"github.com/go-otp-bridge/internal/domain"
)

// SessionStore persists verification sessions. Replace, IncrementAttempts and
// Consume must be atomic in the backing store.
type SessionStore interface {
	Replace(ctx context.Context, s *domain.VerificationSession) error
	Get(ctx context.Context, sessionToken string) (*domain.VerificationSession, error)
	IncrementAttempts(ctx context.Context, sessionToken string, maxAttempts int) (*domain.VerificationSession, error)
	MarkVerified(ctx context.Context, sessionToken string) error
	Consume(ctx context.Context, sessionToken string) error
	Delete(ctx context.Context, sessionToken string) error
}

// IdentityRegistry is read-only access to messaging identities.
type IdentityRegistry interface {
	GetByChatHandle(ctx context.Context, chatHandle string) (*domain.MessagingIdentity, error)
	FindActiveByPhoneCandidates(ctx context.Context, candidates []string) (*domain.MessagingIdentity, error)
}

// AccountDirectory is the external account store.
type AccountDirectory interface {
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByPhoneCandidates(ctx context.Context, candidates []string) (*domain.Account, error)
	FindAccountByMessagingHandle(ctx context.Context, handle string) (*domain.Account, error)
	CreateAccount(ctx context.Context, in domain.NewAccount) (*domain.Account, error)
	UpdatePassword(ctx context.Context, userID, newPassword string) error
	UpdateEmail(ctx context.Context, userID, email string) error
}

// Cooldown throttles sends per key. Acquire must be atomic: of two concurrent
// callers for one key at most one gets true.
type Cooldown interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Config holds the verification parameters.
type Config struct {
	TTL             time.Duration
	MaxAttempts     int
	SMSCooldown     time.Duration
	DispatchTimeout time.Duration
	CountryCode     string
}

// DefaultConfig matches the documented production values.
func DefaultConfig() Config {
	return Config{
		TTL:             3 * time.Minute,
		MaxAttempts:     5,
		SMSCooldown:     60 * time.Second,
		DispatchTimeout: 5 * time.Second,
		CountryCode:     "998",
	}
}

type Service interface {
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionTicket, error)
	CreateSMSSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionTicket, error)
	CreatePasswordResetSession(ctx context.Context, req domain.PasswordResetRequest) (*domain.SessionTicket, error)
	Status(ctx context.Context, sessionToken string) (string, error)
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerificationResult, error)
	CompleteRegistration(ctx context.Context, req domain.RegistrationRequest) (*domain.Account, error)
	ConfirmPasswordReset(ctx context.Context, req domain.PasswordResetConfirmRequest) (*domain.PasswordResetResult, error)
}

// ServiceDeps holds the collaborators of the verification service.
// Without a Cooldown the SMS channel refuses to send.
type ServiceDeps struct {
	Sessions   SessionStore
	Identities IdentityRegistry
	Accounts   AccountDirectory
	Bot        dispatch.Dispatcher
	SMS        dispatch.Dispatcher
	Cooldown   Cooldown
	Config     Config
	Now        func() time.Time
}

type service struct {
	sessions   SessionStore
	identities IdentityRegistry
	accounts   AccountDirectory
	cooldown   Cooldown
	cfg        Config
	now        func() time.Time

	registration  flow
	smsSignup     flow
	passwordReset flow
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		sessions:   deps.Sessions,
		identities: deps.Identities,
		accounts:   deps.Accounts,
		cooldown:   deps.Cooldown,
		cfg:        deps.Config,
		now:        deps.Now,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.registration = flow{
		purpose:    domain.PurposeRegistration,
		channel:    domain.ChannelBot,
		dispatcher: deps.Bot,
		template:   registrationTemplate,
	}
	s.smsSignup = flow{
		purpose:    domain.PurposeRegistration,
		channel:    domain.ChannelSMS,
		dispatcher: deps.SMS,
		template:   registrationTemplate,
		throttled:  true,
	}
	s.passwordReset = flow{
		purpose:    domain.PurposePasswordReset,
		channel:    domain.ChannelBot,
		dispatcher: deps.Bot,
		template:   passwordResetTemplate,
	}
	return s
}
