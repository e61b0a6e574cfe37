package entity

import (
	"math"
	"reflect"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("finite", isFinite)
		_ = validate.RegisterValidation("utf8", isUTF8)
	})
	return validate
}

// isFinite rejects NaN and ±Inf on float fields (including non-nil pointers).
func isFinite(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return true
		}
		f = f.Elem()
	}
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		v := f.Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return true
	}
}

// isUTF8 rejects strings that are not valid UTF-8. Such text would not
// survive segment compaction or a Postgres text column unchanged.
func isUTF8(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() != reflect.String {
		return true
	}
	return utf8.ValidString(f.String())
}

func validateStruct(record string, s interface{}) error {
	if err := validatorInstance().Struct(s); err != nil {
		return &ValidationError{Record: record, Err: err}
	}
	return nil
}
