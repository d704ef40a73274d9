package httptransport

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

type validation struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	validateOnce sync.Once
	shared       *validation
)

// validatorInstance builds the process-wide validator. Messages use json tag
// names so they match the request body the client sent.
func validatorInstance() *validation {
	validateOnce.Do(func() {
		loc := en.New()
		trans, _ := ut.New(loc, loc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		registerShort(v, trans, "max", "{0} must be at most {1} characters")

		shared = &validation{validate: v, translator: trans}
	})
	return shared
}

func registerShort(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(t ut.Translator) error {
			return t.Add(tag, text, true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(tag, fe.Field(), fe.Param())
			return msg
		},
	)
}

// validateStruct runs the struct tags of req and returns the first failure
// as a CodeValidation error.
func validateStruct(req any) error {
	vs := validatorInstance()
	err := vs.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return dErrors.New(dErrors.CodeValidation, verrs[0].Translate(vs.translator))
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "request validation failed")
}
