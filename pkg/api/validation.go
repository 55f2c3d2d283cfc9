package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/rzzdr/options-risk-desk/internal/portfolio"
	"github.com/rzzdr/options-risk-desk/internal/pricing"
)

var registerOnce sync.Once

// RegisterValidations adds the option_kind and position_side binding tags to
// gin's validator. Safe to call more than once.
func RegisterValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("option_kind", validOptionKind)
		_ = v.RegisterValidation("position_side", validPositionSide)
	})
}

func validOptionKind(fl validator.FieldLevel) bool {
	_, err := pricing.ParseOptionKind(fl.Field().String())
	return err == nil
}

func validPositionSide(fl validator.FieldLevel) bool {
	_, err := portfolio.ParseSide(fl.Field().String())
	return err == nil
}
