package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidName is returned for a profile name that cannot be a directory.
var ErrInvalidName = errors.New("invalid profile name")

// nameRules: 1 to 64 of [a-z0-9_-], not starting with '-' so it never
// reads as a flag.
const nameRules = "required,max=64,profilechars,startsnotwith=-"

var validate = func() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("profilechars", profileChars); err != nil {
		panic(err)
	}
	return v
}()

func profileChars(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_'
	})
}

// ValidateName checks that name is safe to use as a profile directory.
func ValidateName(name string) error {
	err := validate.Var(name, nameRules)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w %q: fails %s", ErrInvalidName, name, verrs[0].Tag())
	}
	return fmt.Errorf("%w %q: %v", ErrInvalidName, name, err)
}
