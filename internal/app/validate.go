package app

import (
	"errors"
	"reflect"
	"strings"

	"examroom-service/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// validateStruct turns validator failures into validation errors naming the first bad field.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return domain.Validationf("%s is required", fe.Field())
		case "min":
			return domain.Validationf("%s must be at least %s", fe.Field(), fe.Param())
		case "max":
			return domain.Validationf("%s must be at most %s", fe.Field(), fe.Param())
		default:
			return domain.Validationf("%s is invalid", fe.Field())
		}
	}
	return domain.Validationf("invalid input: %v", err)
}
