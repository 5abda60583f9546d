// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// validate is shared by every handler; validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("course_id", func(fl validator.FieldLevel) bool {
		return shared.IsValidCourseID(fl.Field().String())
	})
	return v
}

// validateCommand runs struct validation and reports failures as
// shared.ErrValidation.
func validateCommand(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return shared.NewDomainError("command", op, shared.ErrValidation, "invalid fields: "+strings.Join(fields, ", "))
}
