package action

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// serverid: a non-empty id that is not a local placeholder
		_ = validate.RegisterValidation("serverid", func(fl validator.FieldLevel) bool {
			return !model.IsPendingID(fl.Field().String())
		})
	})
	return validate
}

// Validate checks an action's fields before it is enqueued or invoked.
// Failures are INVALID_REQUEST.
func Validate(a Action) error {
	if err := validatorInstance().Struct(a); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("%s: %s", a.Kind(), describe(err)))
	}

	switch v := a.(type) {
	case AddReport:
		if len(v.Image.Data) == 0 {
			return errors.NewInvalidRequest(fmt.Sprintf("%s: image is required", a.Kind()))
		}
	case AddPost:
		if v.Image != nil && len(v.Image.Data) == 0 {
			return errors.NewInvalidRequest(fmt.Sprintf("%s: image is empty", a.Kind()))
		}
	case UpdateTutorial:
		return requireServerID(a.Kind(), v.ID)
	case UpdateSupplier:
		return requireServerID(a.Kind(), v.ID)
	case UpdateCalendarTask:
		return requireServerID(a.Kind(), v.ID)
	}
	return nil
}

func requireServerID(kind Kind, id string) error {
	if id == "" {
		return errors.NewInvalidRequest(fmt.Sprintf("%s: id is required", kind))
	}
	if model.IsPendingID(id) {
		return errors.NewInvalidRequest(fmt.Sprintf("%s: id %q is a local placeholder", kind, id))
	}
	return nil
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
