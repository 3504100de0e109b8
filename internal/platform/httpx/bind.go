package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Bind decodes the JSON body into dst and validates it. Every failure wraps
// ErrValidation.
func Bind(r *http.Request, v *validator.Validate, dst any) error {
	if err := DecodeJSON(r, dst); err != nil {
		return fmt.Errorf("%w: malformed request body", ErrValidation)
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
