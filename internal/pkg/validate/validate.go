package validate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-otp-bridge/internal/pkg/phone"
	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. It is initialised once at
// package load time. Any custom type registrations must be made during init()
// before the first call to Struct.
var v = validator.New()

func init() {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// phone: 9–15 digits once punctuation and the '+' prefix are stripped.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phone.Valid(fl.Field().String())
	})
}

// Error lists the JSON field names that failed validation, in declaration order.
type Error struct {
	Fields []string
	msg    string
}

func (e *Error) Error() string { return e.msg }

// Struct validates the given struct using its validate tags.
// Returns a *Error with a human-readable message or nil.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		out := &Error{}
		var msgs []string
		for _, fe := range ve {
			out.Fields = append(out.Fields, fe.Field())
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		out.msg = strings.Join(msgs, "; ")
		return out
	}
	return nil
}

// Email reports whether s is a well-formed address of at most 255 characters.
func Email(s string) bool {
	return len(s) <= 255 && v.Var(s, "required,email") == nil
}
