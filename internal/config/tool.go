package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// ToolEnv carries the logging keys shared by the operator tools. Embed it in
// a tool's env struct.
type ToolEnv struct {
	AppEnv   string `envconfig:"APP_ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
}

// Config converts the tool settings into the shape logging.Setup expects.
func (t ToolEnv) Config(service Service) Config {
	return Config{
		Service:  service,
		AppEnv:   firstNonEmpty(normalizeEnv(t.AppEnv), DefaultAppEnv),
		LogLevel: firstNonEmpty(t.LogLevel, DefaultLogLevel),
	}
}

// LoadTool fills spec from the environment with envconfig. The .env rules are
// the same as for the bots: it is read only when APP_ENV=development.
func LoadTool(spec interface{}) error {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return err
	}
	if err := validateAppEnv(appEnv); err != nil {
		return err
	}
	if err := loadDotEnv(appEnv); err != nil {
		return err
	}

	if err := envconfig.Process("", spec); err != nil {
		return fmt.Errorf("load tool environment: %w", err)
	}
	return nil
}
