package http

import (
	"github.com/go-otp-bridge/internal/application/otp"
	"github.com/go-otp-bridge/internal/transport/http/handler"
)

// Deps holds the application services the router exposes.
type Deps struct {
	OTP     otp.Service
	Webhook handler.UpdateIngester
}
