package middleware

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
)

// SetupValidator registers the ledger's binding tags on gin's validator and
// makes errors name fields by their json or form key.
//
// Tags:
//
//	currency   an ISO 4217 code, any case
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(fieldKey)
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return domain.ValidCurrency(domain.NormalizeCurrency(fl.Field().String()))
	})
}

func fieldKey(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return ""
}

// ValidationDetails converts binding errors to response details, or nil
// when err is not a validation failure (malformed JSON, for one).
func ValidationDetails(err error) []dto.ValidationDetail {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make([]dto.ValidationDetail, len(fieldErrs))
	for i, fe := range fieldErrs {
		details[i] = dto.ValidationDetail{Field: fe.Field(), Message: describe(fe)}
	}
	return details
}

var fixedMessages = map[string]string{
	"required": "This field is required",
	"uuid":     "Invalid UUID format",
	"currency": "Must be an ISO 4217 currency code",
	"dive":     "Invalid list item",
}

func describe(fe validator.FieldError) string {
	if msg, ok := fixedMessages[fe.Tag()]; ok {
		return msg
	}
	p := fe.Param()
	switch fe.Tag() {
	case "min", "max":
		bound := map[string]string{"min": "at least", "max": "at most"}[fe.Tag()]
		if fe.Kind() == reflect.String {
			return "Must be " + bound + " " + p + " characters"
		}
		if fe.Kind() == reflect.Slice {
			return "Must have " + bound + " " + p + " items"
		}
		return "Must be " + bound + " " + p
	case "len":
		return "Must be exactly " + p + " characters"
	case "oneof":
		return "Must be one of: " + p
	case "gte":
		return "Must be greater than or equal to " + p
	case "lte":
		return "Must be less than or equal to " + p
	case "datetime":
		return "Must be a date in the format " + p
	}
	return "Invalid value"
}
