package domain

import "time"

// Account is the account-directory record a verification authorizes changes to.
// PK: user_id. MessagingHandle stores the chat handle of the bound identity.
type Account struct {
	UserID          string    `json:"id" dynamodbav:"user_id"`
	Email           string    `json:"email" dynamodbav:"email"`
	PhoneNumber     string    `json:"phone_number,omitempty" dynamodbav:"phone_number,omitempty"`
	MessagingHandle string    `json:"messaging_handle,omitempty" dynamodbav:"messaging_handle,omitempty"`
	DisplayName     string    `json:"display_name" dynamodbav:"display_name"`
	PasswordHash    string    `json:"-" dynamodbav:"password_hash"`
	CreatedAt       time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt       time.Time `json:"updated" dynamodbav:"updated_at"`
}

type NewAccount struct {
	Email           string
	PhoneNumber     string
	MessagingHandle string
	DisplayName     string
	Password        string
}
