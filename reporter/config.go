package reporter

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/overmindtech/health-reporter/cognito"
	"github.com/overmindtech/health-reporter/internal"
	"github.com/overmindtech/health-reporter/parameters"
	"github.com/overmindtech/health-reporter/probe"
	"github.com/overmindtech/health-reporter/report"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is everything a reporter needs to know about the deployment it is
// checking
type Config struct {
	Project string `validate:"required,max=64"`
	Venue   string `validate:"required,max=64"`

	// Bucket that reports are written to. Derived from the project and
	// venue when blank
	Bucket string `validate:"omitempty,min=3,max=63"`
	// Key that always holds the most recent report
	LatestKey string `validate:"required"`

	// Where the shared parameters live
	SharedRegion     string `validate:"required"`
	AccountParameter string `validate:"required,startswith=/"`

	UsernameParameter string `validate:"required,startswith=/"`
	PasswordParameter string `validate:"required,startswith=/"`
	ClientIDParameter string `validate:"required,startswith=/"`

	// Number of services that are checked at once
	Concurrency int `validate:"min=1,max=256"`
	// Timeout for each health check, zero means no timeout
	ProbeTimeout time.Duration `validate:"min=0"`
}

// DefaultConfig returns a config for the given deployment with every other
// setting at its default
func DefaultConfig(project, venue string) Config {
	return Config{
		Project:           project,
		Venue:             venue,
		LatestKey:         report.LatestKey,
		SharedRegion:      parameters.DefaultSharedRegion,
		AccountParameter:  internal.AccountParameter,
		UsernameParameter: cognito.DefaultUsernameParameter,
		PasswordParameter: cognito.DefaultPasswordParameter,
		ClientIDParameter: cognito.DefaultClientIDParameter,
		Concurrency:       probe.DefaultConcurrency,
	}
}

// ConfigFromViper reads the config from viper. Unset values keep their
// defaults
func ConfigFromViper() (Config, error) {
	c := DefaultConfig(viper.GetString("project"), viper.GetString("venue"))

	c.Bucket = viper.GetString("bucket")

	if v := viper.GetString("latest-key"); v != "" {
		c.LatestKey = v
	}
	if v := viper.GetString("shared-region"); v != "" {
		c.SharedRegion = v
	}
	if v := viper.GetString("account-parameter"); v != "" {
		c.AccountParameter = v
	}
	if v := viper.GetString("username-parameter"); v != "" {
		c.UsernameParameter = v
	}
	if v := viper.GetString("password-parameter"); v != "" {
		c.PasswordParameter = v
	}
	if v := viper.GetString("client-id-parameter"); v != "" {
		c.ClientIDParameter = v
	}
	if viper.IsSet("concurrency") {
		c.Concurrency = viper.GetInt("concurrency")
	}

	c.ProbeTimeout = viper.GetDuration("probe-timeout")

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks that the config is usable
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// BucketName returns the configured bucket, or the deployment's default
// bucket
func (c Config) BucketName() string {
	if c.Bucket != "" {
		return c.Bucket
	}

	return internal.BucketName(c.Project, c.Venue)
}
