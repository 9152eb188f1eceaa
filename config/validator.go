package config

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

// sharedValidator configures and returns the shared validator instance used
// across the config package.
func sharedValidator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("nats_url", func(fl validator.FieldLevel) bool {
			urlStr := fl.Field().String()
			if urlStr == "" {
				return true // Allow empty if not required
			}
			return strings.HasPrefix(urlStr, "nats://") || strings.HasPrefix(urlStr, "tls://")
		})

		validateInst = v
	})

	return validateInst
}
