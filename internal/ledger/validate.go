package ledger

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate = newValidator()

	// Latin and Devanagari letters, spaces, dots and hyphens.
	sevakNameRegex = regexp.MustCompile(`^[a-zA-Z\s\x{0900}-\x{097F}.\-]+$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	_ = v.RegisterValidation("sevakname", func(fl validator.FieldLevel) bool {
		return sevakNameRegex.MatchString(fl.Field().String())
	})
	return v
}

// checkStruct runs struct tags and turns the first failure into a validation error.
func checkStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return validationf("invalid input")
	}
	fe := ves[0]
	switch fe.Tag() {
	case "required":
		return validationf("%s is required", fe.Field())
	case "min":
		return validationf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return validationf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "gt":
		return validationf("%s must be greater than %s", fe.Field(), fe.Param())
	case "oneof":
		return validationf("%s must be one of: %s", fe.Field(), fe.Param())
	case "email":
		return validationf("%s must be a valid email", fe.Field())
	case "sevakname":
		return validationf("%s contains invalid characters", fe.Field())
	}
	return validationf("%s is invalid", fe.Field())
}

func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
