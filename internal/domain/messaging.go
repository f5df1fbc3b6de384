package domain

import "time"

// MessagingIdentity binds a bot chat handle to a phone number.
// PK: chat_handle. Written only by the webhook ingester.
type MessagingIdentity struct {
	ChatHandle  string    `json:"chat_handle" dynamodbav:"chat_handle"`
	Username    string    `json:"username" dynamodbav:"username"`
	DisplayName string    `json:"display_name" dynamodbav:"display_name"`
	PhoneNumber string    `json:"phone_number,omitempty" dynamodbav:"phone_number,omitempty"`
	IsActive    bool      `json:"is_active" dynamodbav:"is_active"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Snapshot copies the fields a verification session keeps.
func (m *MessagingIdentity) Snapshot() Snapshot {
	return Snapshot{
		IdentityID:  m.ChatHandle,
		Handle:      m.Username,
		DisplayName: m.DisplayName,
	}
}
