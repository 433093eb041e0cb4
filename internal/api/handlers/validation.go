package handlers

import (
	"sync"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var registerOnce sync.Once

// RegisterValidations adds the custom binding tags to gin's validator
func RegisterValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			log.Warn().Msg("Binding engine is not go-playground/validator, custom tags disabled")
			return
		}

		custom := map[string]validator.Func{
			"subject": func(fl validator.FieldLevel) bool {
				return models.SubjectType(fl.Field().String()).Valid()
			},
			"ttl": func(fl validator.FieldLevel) bool {
				_, err := services.ParseTTL(fl.Field().String())
				return err == nil
			},
			"kind": func(fl validator.FieldLevel) bool {
				kind := models.NotificationKind(fl.Field().String())
				return kind == models.KindNotification || kind == models.KindKick
			},
		}
		for tag, fn := range custom {
			if err := v.RegisterValidation(tag, fn); err != nil {
				log.Error().Err(err).Str("tag", tag).Msg("Failed to register validation")
			}
		}
	})
}

// bind decodes the body (form or JSON, by content type) into req and
// answers 400 on failure
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBind(req); err != nil {
		respondError(c, NewValidationError(err.Error()))
		return false
	}
	return true
}
