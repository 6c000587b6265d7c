package payroll

import (
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// TimePoint validates as its instant, so `required` rejects zero days.
		validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if tp, ok := field.Interface().(TimePoint); ok {
				return tp.Time
			}
			return nil
		}, TimePoint{})
		validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	})
	return validate
}

// Validate checks a record's struct tags. Stores call it before every create
// and update.
func Validate(record any) error {
	if err := recordValidator().Struct(record); err != nil {
		return &ValidationError{Record: recordName(record), Err: err}
	}
	return nil
}

func recordName(record any) string {
	t := reflect.TypeOf(record)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
