package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrBadBody is returned by DecodeJSON for bodies that are not one JSON
// object.
var ErrBadBody = errors.New("invalid request body")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON decodes a single JSON object from the request body into dst.
// Errors wrap ErrBadBody unless the body exceeded its size limit, in which
// case the *http.MaxBytesError is returned as is.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	return nil
}

// Validate checks the validate struct tags of v and returns one message per
// failing field, keyed by its JSON name. A nil map means v is valid.
func Validate(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag() + " validation"
}

// BadRequest answers a body decode or validation problem. Oversized bodies
// get 413.
func BadRequest(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		Error(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", nil)
		return
	}
	Error(w, http.StatusBadRequest, "invalid_body", "invalid request body", nil)
}

// ValidationFailed answers 400 with per-field details.
func ValidationFailed(w http.ResponseWriter, fields map[string]string) {
	Error(w, http.StatusBadRequest, "validation_failed", "validation failed", fields)
}
