package tracing

import (
	"time"

	"example.com/backstage/services/keygate/config"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NewApplication starts the New Relic agent. It returns nil when tracing is
// disabled or no license key is configured.
func NewApplication(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return nil, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}
	return app, nil
}

// Middleware returns the nrgin middleware, or a pass-through when app is nil
func Middleware(app *newrelic.Application) gin.HandlerFunc {
	if app == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return nrgin.Middleware(app)
}

// AddAttribute adds an attribute to the request's transaction, if any
func AddAttribute(c *gin.Context, key string, value interface{}) {
	if txn := nrgin.Transaction(c); txn != nil {
		txn.AddAttribute(key, value)
	}
}

// NoticeError records err on the request's transaction, if any
func NoticeError(c *gin.Context, err error) {
	if txn := nrgin.Transaction(c); txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// Shutdown flushes pending data
func Shutdown(app *newrelic.Application) {
	if app == nil {
		return
	}
	app.Shutdown(10 * time.Second)
	log.Info().Msg("New Relic tracer shutdown")
}
