package dynamo

// DynamoDB attribute names used in key, condition and update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldSessionToken = "session_token"
	fieldEmail        = "email"
	fieldIsUsed       = "is_used"
	fieldIsVerified   = "is_verified"
	fieldAttempts     = "attempts"
	fieldTTL          = "ttl"

	fieldChatHandle  = "chat_handle"
	fieldUsername    = "username"
	fieldDisplayName = "display_name"
	fieldPhoneNumber = "phone_number"
	fieldIsActive    = "is_active"
	fieldUpdatedAt   = "updated_at"

	fieldUserID          = "user_id"
	fieldMessagingHandle = "messaging_handle"
	fieldPasswordHash    = "password_hash"

	fieldGuardKey  = "guard_key"
	fieldExpiresMs = "expires_ms"
)

// GSI names.
const (
	indexEmail           = "email-index"
	indexPhoneNumber     = "phone_number-index"
	indexMessagingHandle = "messaging_handle-index"
)
