package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-otp-bridge/internal/domain"
)

// maxBodyBytes caps request bodies on every JSON endpoint.
const maxBodyBytes = 64 << 10

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorEnvelope carries a classified error. ErrorKind tells the client whether
// to retry the code, request a new session or use another contact method.
type ErrorEnvelope struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code"`
	ErrorKind    string `json:"error_kind"`
	Message      string `json:"message"`
	AttemptsLeft *int   `json:"attempts_left,omitempty"`
	BotURL       string `json:"bot_url,omitempty"`
}

// TicketEnvelope wraps session creation responses.
type TicketEnvelope struct {
	Success bool `json:"success"`
	*domain.SessionTicket
}

// StatusEnvelope wraps polling responses.
type StatusEnvelope struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// VerificationEnvelope wraps verify responses.
type VerificationEnvelope struct {
	Success bool `json:"success"`
	*domain.VerificationResult
}

// AccountEnvelope wraps a newly registered account.
type AccountEnvelope struct {
	Success bool            `json:"success"`
	Account *domain.Account `json:"account"`
}

// PasswordResetEnvelope wraps password-reset confirmation. Success is true
// whenever the password was applied, even if the email change was rejected.
type PasswordResetEnvelope struct {
	Success bool `json:"success"`
	*domain.PasswordResetResult
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, kind domain.Kind, msg string) {
	writeJSON(w, status, ErrorEnvelope{ErrorCode: code, ErrorKind: string(kind), Message: msg})
}

// decodeJSON reads a bounded JSON body into v. On failure it writes a 400 and
// returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", domain.KindValidation, "invalid request body")
		return false
	}
	return true
}

var messages = map[string]string{
	"INVALID_EMAIL":                "Enter a valid email address.",
	"INVALID_PHONE":                "Enter a valid phone number.",
	"INVALID_CODE":                 "The code must be 6 digits.",
	"INVALID_PASSWORD":             "The password must be between 8 and 72 characters.",
	"BAD_REQUEST":                  "The request is invalid.",
	"CODE_MISMATCH":                "The code is incorrect. Try again.",
	"EMAIL_ALREADY_REGISTERED":     "This email is already registered.",
	"PHONE_ALREADY_REGISTERED":     "This phone number is already registered.",
	"IDENTITY_ALREADY_REGISTERED":  "This messaging account is already linked to another user.",
	"EMAIL_TAKEN":                  "This email is already in use.",
	"CONFLICT":                     "The request conflicts with another change. Try again.",
	"SESSION_NOT_FOUND":            "The verification session was not found. Request a new code.",
	"EXPIRED":                      "The code has expired. Request a new code.",
	"ALREADY_USED":                 "The code has already been used. Request a new code.",
	"TOO_MANY_ATTEMPTS":            "Too many attempts. Request a new code.",
	"DISPATCH_FAILED":              "The code could not be delivered. Try again.",
	"RATE_LIMITED":                 "A code was sent recently. Wait a minute before requesting another.",
	"MESSAGING_IDENTITY_NOT_FOUND": "Open the bot, press Start and share your phone number first.",
	"ACCOUNT_NOT_FOUND":            "No account is linked to this messaging account.",
	"NOT_FOUND":                    "Not found.",
}

// botLink turns a bot username into the link clients open to start the bot.
func botLink(username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return ""
	}
	return "https://t.me/" + username
}

// httpError maps a service error onto a status code and an ErrorEnvelope.
// Unclassified errors are logged and reported as a generic failure. A missing
// messaging identity carries botURL so the client can send the user to the bot.
func httpError(w http.ResponseWriter, r *http.Request, err error, botURL string) {
	code := domain.CodeOf(err)
	kind := domain.KindOf(err)

	var status int
	switch kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
		if code == "CODE_MISMATCH" {
			status = http.StatusUnprocessableEntity
		}
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindLifecycle:
		status = http.StatusGone
		if code == "SESSION_NOT_FOUND" {
			status = http.StatusNotFound
		}
	case domain.KindTransient:
		status = http.StatusBadGateway
		if code == "RATE_LIMITED" {
			status = http.StatusTooManyRequests
		}
	case domain.KindDependency:
		status = http.StatusNotFound
	default:
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, code, kind, "Something went wrong. Try again later.")
		return
	}

	env := ErrorEnvelope{ErrorCode: code, ErrorKind: string(kind), Message: messages[code]}
	var ae *domain.AttemptsError
	if errors.As(err, &ae) {
		left := ae.Remaining
		env.AttemptsLeft = &left
	}
	if errors.Is(err, domain.ErrMessagingIdentityNotFound) {
		env.BotURL = botURL
	}
	writeJSON(w, status, env)
}
