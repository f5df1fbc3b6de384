package domain

import "time"

// Purpose values for VerificationSession.Purpose.
const (
	PurposeRegistration  = "registration"
	PurposePasswordReset = "password_reset"
)

// Channel values for VerificationSession.Channel.
const (
	ChannelBot = "bot"
	ChannelSMS = "sms"
)

// Status values reported by the polling endpoint.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusExpired  = "expired"
	StatusUsed     = "used"
)

// VerificationSession is a time-bounded, single-use OTP session.
// PK: session_token. At most one unused session exists per email.
// TTL is a Unix timestamp used as the DynamoDB expiry attribute; ExpiresAt is authoritative.
type VerificationSession struct {
	SessionToken string    `json:"session_token" dynamodbav:"session_token"`
	Email        string    `json:"email" dynamodbav:"email"`
	PhoneNumber  string    `json:"phone_number" dynamodbav:"phone_number"`
	PhoneDigits  string    `json:"-" dynamodbav:"phone_digits"`
	Code         string    `json:"-" dynamodbav:"code"`
	Purpose      string    `json:"purpose" dynamodbav:"purpose"`
	Channel      string    `json:"channel" dynamodbav:"channel"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" dynamodbav:"expires_at"`
	IsUsed       bool      `json:"is_used" dynamodbav:"is_used"`
	IsVerified   bool      `json:"is_verified" dynamodbav:"is_verified"`
	Attempts     int       `json:"attempts" dynamodbav:"attempts"`
	Identity     Snapshot  `json:"identity" dynamodbav:"identity"`
	TTL          int64     `json:"-" dynamodbav:"ttl"`
}

// Snapshot is the messaging identity as it was when the session was created.
type Snapshot struct {
	IdentityID  string `json:"messaging_identity_id,omitempty" dynamodbav:"messaging_identity_id"`
	Handle      string `json:"messaging_handle,omitempty" dynamodbav:"messaging_handle"`
	DisplayName string `json:"messaging_display_name,omitempty" dynamodbav:"messaging_display_name"`
}

// Expired reports whether the session can no longer be consumed at now.
// A session is still valid at exactly ExpiresAt.
func (s *VerificationSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Status derives the polling status at now. Expiry outranks verification.
func (s *VerificationSession) Status(now time.Time) string {
	switch {
	case s.IsUsed:
		return StatusUsed
	case s.Expired(now):
		return StatusExpired
	case s.IsVerified:
		return StatusVerified
	default:
		return StatusPending
	}
}

type CreateSessionRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

type PasswordResetRequest struct {
	MessagingHandle string `json:"messaging_handle" validate:"required,max=64"`
}

type VerifyRequest struct {
	SessionToken string `json:"session_token" validate:"required,min=48,max=128,alphanum"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
	Consume      bool   `json:"consume"`
}

type RegistrationRequest struct {
	SessionToken string `json:"session_token" validate:"required,min=48,max=128,alphanum"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	DisplayName  string `json:"display_name" validate:"max=128"`
}

type PasswordResetConfirmRequest struct {
	SessionToken string  `json:"session_token" validate:"required,min=48,max=128,alphanum"`
	Code         string  `json:"code" validate:"required,len=6,numeric"`
	NewPassword  string  `json:"new_password" validate:"required,min=8,max=72"`
	NewEmail     *string `json:"new_email"`
}

// SessionTicket is returned on session creation. The code is never part of it.
type SessionTicket struct {
	SessionToken     string `json:"session_token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	MaskedEmailHint  string `json:"masked_email_hint,omitempty"`
}

// VerificationResult is returned by a successful verify.
type VerificationResult struct {
	Status      string   `json:"status"`
	Purpose     string   `json:"purpose"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phone_number"`
	Consumed    bool     `json:"consumed"`
	Identity    Snapshot `json:"identity"`
}

// PasswordResetResult separates the password change from the optional email change.
// EmailError is set when the email change was rejected while the password was applied.
type PasswordResetResult struct {
	PasswordChanged bool   `json:"password_changed"`
	EmailChanged    bool   `json:"email_changed"`
	EmailError      string `json:"email_error,omitempty"`
}
