package middleware

import (
	"crypto/subtle"
	"net/http"
)

// SecretTokenHeader is set by the bot platform on every webhook delivery.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecret rejects deliveries whose secret token header does not match.
// With no secret configured every delivery is rejected.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(SecretTokenHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
