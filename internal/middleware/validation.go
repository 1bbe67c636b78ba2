package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/license"
)

// Validator decodes JSON request bodies and checks their struct tags,
// reporting failures as license validation errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator that names fields by their JSON tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Decode reads r's JSON body into dst and validates it.
func (v *Validator) Decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return apierrors.ErrInvalidBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierrors.ErrInvalidBody
	}
	return v.Struct(dst)
}

// Struct validates s. Missing required fields are reported together in
// declaration order.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	var missing []string
	for _, fe := range fieldErrs {
		switch {
		case fe.Tag() == "required":
			missing = append(missing, fe.Field())
		default:
			return &license.Error{Reason: license.ReasonMissingFields, Detail: formatFieldError(fe)}
		}
	}
	return &license.Error{
		Reason: license.ReasonMissingFields,
		Detail: fmt.Sprintf("missing required fields: %v", missing),
	}
}

func formatFieldError(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// RejectFunc answers a request that failed a middleware check. Each route
// group passes the writer that produces its own body shape.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireJSON rejects bodies that are not declared as JSON by handing
// apierrors.ErrUnsupportedMediaType to reject.
func RequireJSON(reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				ct := r.Header.Get("Content-Type")
				if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
					reject(w, r, apierrors.ErrUnsupportedMediaType)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
