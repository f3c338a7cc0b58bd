package submission

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	msgSubmitFailed   = "Failed to submit tool, please try again later"
	msgInvalidPayload = "Invalid request body"
)

// ErrorResponse maps a Submit error to an HTTP status and a message safe to
// show the submitter. Validation messages pass through; anything else becomes
// a generic retry-later message.
func ErrorResponse(err error) (int, string) {
	if errors.Is(err, ErrInvalidSubmission) {
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrInvalidSubmission.Error()+": ")
	}
	return http.StatusInternalServerError, msgSubmitFailed
}

var formType = reflect.TypeOf(Form{})

// BindingMessage turns a gin binding error for Form into a short message
// naming the offending field by its JSON name.
func BindingMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return msgInvalidPayload
	}
	fe := ve[0]
	name := fe.Field()
	if f, ok := formType.FieldByName(fe.StructField()); ok {
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" {
			name = tag
		}
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "url":
		return name + " must be a valid URL"
	default:
		return name + " is invalid"
	}
}
