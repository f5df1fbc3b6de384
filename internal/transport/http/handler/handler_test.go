package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/infrastructure/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockOTPSvc struct{ mock.Mock }

func (m *mockOTPSvc) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionTicket, error) {
	args := m.Called(ctx, req)
	if t, _ := args.Get(0).(*domain.SessionTicket); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) CreateSMSSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionTicket, error) {
	args := m.Called(ctx, req)
	if t, _ := args.Get(0).(*domain.SessionTicket); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) CreatePasswordResetSession(ctx context.Context, req domain.PasswordResetRequest) (*domain.SessionTicket, error) {
	args := m.Called(ctx, req)
	if t, _ := args.Get(0).(*domain.SessionTicket); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) Status(ctx context.Context, sessionToken string) (string, error) {
	args := m.Called(ctx, sessionToken)
	return args.String(0), args.Error(1)
}

func (m *mockOTPSvc) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerificationResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*domain.VerificationResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) CompleteRegistration(ctx context.Context, req domain.RegistrationRequest) (*domain.Account, error) {
	args := m.Called(ctx, req)
	if a, _ := args.Get(0).(*domain.Account); a != nil {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) ConfirmPasswordReset(ctx context.Context, req domain.PasswordResetConfirmRequest) (*domain.PasswordResetResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*domain.PasswordResetResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Handle(ctx context.Context, upd telegram.Update) error {
	return m.Called(ctx, upd).Error(0)
}

// --- helpers ---

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func verificationRouter(svc *mockOTPSvc) http.Handler {
	h := NewVerificationHandler(svc, "@otp_bridge_bot")
	r := chi.NewRouter()
	r.Post("/sessions", h.CreateSession)
	r.Post("/sms-sessions", h.CreateSMSSession)
	r.Get("/sessions/{token}/status", h.Status)
	r.Post("/verify", h.Verify)
	r.Post("/registration/complete", h.CompleteRegistration)
	return r
}

// --- verification ---

func TestCreateSession_Created(t *testing.T) {
	svc := new(mockOTPSvc)
	req := domain.CreateSessionRequest{Email: "a@b.uz", PhoneNumber: "+998901112233"}
	svc.On("CreateSession", mock.Anything, req).
		Return(&domain.SessionTicket{SessionToken: "tok", ExpiresInSeconds: 180}, nil)

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", jsonBody(t, req)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "tok", body["session_token"])
	assert.Equal(t, float64(180), body["expires_in_seconds"])
	assert.NotContains(t, body, "code")
	svc.AssertExpectations(t)
}

func TestCreateSession_MalformedBody(t *testing.T) {
	svc := new(mockOTPSvc)
	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decodeBody(t, rec)["error_code"])
	svc.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestCreateSMSSession_RateLimited(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("CreateSMSSession", mock.Anything, mock.Anything).Return(nil, domain.ErrRateLimited)

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sms-sessions",
		jsonBody(t, domain.CreateSessionRequest{Email: "a@b.uz", PhoneNumber: "+998901112233"})))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "RATE_LIMITED", body["error_code"])
	assert.Equal(t, "transient", body["error_kind"])
}

func TestStatus(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("Status", mock.Anything, "tok").Return(domain.StatusVerified, nil)

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/tok/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "verified", decodeBody(t, rec)["status"])
}

func TestVerify_MismatchReportsAttemptsLeft(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("Verify", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("verify: %w", &domain.AttemptsError{Remaining: 0}))

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify",
		jsonBody(t, domain.VerifyRequest{SessionToken: "tok", Code: "000000"})))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "CODE_MISMATCH", body["error_code"])
	assert.Equal(t, "validation", body["error_kind"])
	assert.Equal(t, float64(0), body["attempts_left"])
}

func TestVerify_Success(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("Verify", mock.Anything, domain.VerifyRequest{SessionToken: "tok", Code: "123456", Consume: true}).
		Return(&domain.VerificationResult{Status: domain.StatusUsed, Consumed: true, Email: "a@b.uz"}, nil)

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify",
		jsonBody(t, domain.VerifyRequest{SessionToken: "tok", Code: "123456", Consume: true})))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["consumed"])
	assert.Equal(t, "used", body["status"])
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{domain.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL"},
		{domain.ErrEmailAlreadyRegistered, http.StatusConflict, "EMAIL_ALREADY_REGISTERED"},
		{domain.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{domain.ErrSessionExpired, http.StatusGone, "EXPIRED"},
		{domain.ErrSessionAlreadyUsed, http.StatusGone, "ALREADY_USED"},
		{domain.ErrTooManyAttempts, http.StatusGone, "TOO_MANY_ATTEMPTS"},
		{fmt.Errorf("bot push: %w: %w", domain.ErrDispatchFailed, errors.New("timeout")), http.StatusBadGateway, "DISPATCH_FAILED"},
		{domain.ErrMessagingIdentityNotFound, http.StatusNotFound, "MESSAGING_IDENTITY_NOT_FOUND"},
		{errors.New("dynamodb exploded"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := new(mockOTPSvc)
			svc.On("Status", mock.Anything, "tok").Return("", tc.err)

			rec := httptest.NewRecorder()
			verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/tok/status", nil))

			assert.Equal(t, tc.want, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tc.code, body["error_code"])
			assert.NotContains(t, body["message"], "dynamodb")
		})
	}
}

func TestCreateSession_MissingIdentityLinksBot(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("CreateSession", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("find identity: %w", domain.ErrMessagingIdentityNotFound))

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions",
		jsonBody(t, domain.CreateSessionRequest{Email: "a@b.uz", PhoneNumber: "+998901112233"})))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "MESSAGING_IDENTITY_NOT_FOUND", body["error_code"])
	assert.Equal(t, "https://t.me/otp_bridge_bot", body["bot_url"])
}

func TestErrorEnvelope_NoBotLinkForOtherErrors(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("Status", mock.Anything, "tok").Return("", domain.ErrSessionNotFound)

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/tok/status", nil))

	assert.NotContains(t, decodeBody(t, rec), "bot_url")
}

func TestPasswordReset_MissingIdentityLinksBot(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("CreatePasswordResetSession", mock.Anything, mock.Anything).
		Return(nil, domain.ErrMessagingIdentityNotFound)

	rec := httptest.NewRecorder()
	resetRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/password-reset/request",
		jsonBody(t, domain.PasswordResetRequest{MessagingHandle: "1001"})))

	assert.Equal(t, "https://t.me/otp_bridge_bot", decodeBody(t, rec)["bot_url"])
}

func TestBotLink(t *testing.T) {
	assert.Equal(t, "https://t.me/otp_bridge_bot", botLink("@otp_bridge_bot"))
	assert.Equal(t, "https://t.me/otp_bridge_bot", botLink("otp_bridge_bot"))
	assert.Equal(t, "", botLink(""))
}

func TestCompleteRegistration_Created(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("CompleteRegistration", mock.Anything, mock.Anything).
		Return(&domain.Account{UserID: "u1", Email: "a@b.uz", PasswordHash: "hash"}, nil)

	rec := httptest.NewRecorder()
	verificationRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/registration/complete",
		jsonBody(t, domain.RegistrationRequest{SessionToken: "tok", Code: "123456", Password: "password1"})))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hash")
	account := decodeBody(t, rec)["account"].(map[string]interface{})
	assert.Equal(t, "u1", account["id"])
}

// --- password reset ---

func resetRouter(svc *mockOTPSvc) http.Handler {
	h := NewPasswordResetHandler(svc, "otp_bridge_bot")
	r := chi.NewRouter()
	r.Post("/password-reset/{action}", h.Action)
	return r
}

func TestPasswordReset_Request(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("CreatePasswordResetSession", mock.Anything, domain.PasswordResetRequest{MessagingHandle: "1001"}).
		Return(&domain.SessionTicket{SessionToken: "tok", ExpiresInSeconds: 180, MaskedEmailHint: "jo***@ex***.com"}, nil)

	rec := httptest.NewRecorder()
	resetRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/password-reset/request",
		jsonBody(t, domain.PasswordResetRequest{MessagingHandle: "1001"})))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "jo***@ex***.com", decodeBody(t, rec)["masked_email_hint"])
}

func TestPasswordReset_ConfirmWithRejectedEmail(t *testing.T) {
	svc := new(mockOTPSvc)
	svc.On("ConfirmPasswordReset", mock.Anything, mock.Anything).
		Return(&domain.PasswordResetResult{PasswordChanged: true, EmailError: "EMAIL_TAKEN"}, nil)

	rec := httptest.NewRecorder()
	resetRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/password-reset/confirm",
		jsonBody(t, map[string]string{"session_token": "tok", "code": "123456", "new_password": "password1", "new_email": "x@y.uz"})))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["password_changed"])
	assert.Equal(t, false, body["email_changed"])
	assert.Equal(t, "EMAIL_TAKEN", body["email_error"])
}

func TestPasswordReset_UnknownAction(t *testing.T) {
	rec := httptest.NewRecorder()
	resetRouter(new(mockOTPSvc)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/password-reset/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- webhook ---

func TestWebhook_Ack(t *testing.T) {
	ing := new(mockIngester)
	ing.On("Handle", mock.Anything, mock.MatchedBy(func(u telegram.Update) bool {
		return u.UpdateID == 7 && u.Message != nil && u.Message.Text == "/start"
	})).Return(nil)

	body := `{"update_id":7,"message":{"message_id":1,"chat":{"id":1001,"type":"private"},"text":"/start"}}`
	rec := httptest.NewRecorder()
	NewWebhookHandler(ing).Telegram(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/telegram", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	ing.AssertExpectations(t)
}

func TestWebhook_StoreFailureAsksForRedelivery(t *testing.T) {
	ing := new(mockIngester)
	ing.On("Handle", mock.Anything, mock.Anything).Return(errors.New("dynamo down"))

	rec := httptest.NewRecorder()
	NewWebhookHandler(ing).Telegram(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/telegram", bytes.NewBufferString(`{"update_id":8}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- health ---

func TestPing(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/health-check/{action}", NewHealthHandler().Ping)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health-check/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", decodeBody(t, rec)["message"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health-check/other", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
