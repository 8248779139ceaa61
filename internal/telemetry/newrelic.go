package telemetry

import (
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"example.com/debitum/config"
)

// InitNewRelic initializes the New Relic application. It returns nil
// when tracing is disabled or unconfigured; callers treat a nil app as
// tracing off.
func InitNewRelic(cfg config.TracingConfig) (*newrelic.Application, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
		newrelic.ConfigAppLogForwardingEnabled(cfg.LogEnabled),
	)
	if err != nil {
		return nil, err
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		return nil, err
	}
	return app, nil
}
