package gateway

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jara-app/rewards-gateway/internal/service/device"
	"github.com/jara-app/rewards-gateway/internal/service/session"
)

var registerOnce sync.Once

// registerValidators adds the gateway's tags to gin's validator engine.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("theme", func(fl validator.FieldLevel) bool {
			return device.Theme(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("boost_tier", func(fl validator.FieldLevel) bool {
			amount := int(fl.Field().Int())
			for _, t := range session.BoostTiers {
				if t == amount {
					return true
				}
			}
			return false
		})
	})
}
