package awsconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	stscredsv2 "github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// AuthConfig describes how to get credentials for the account that the
// reporter runs in
type AuthConfig struct {
	Strategy        string
	AccessKeyID     string
	SecretAccessKey string
	ExternalID      string
	TargetRoleARN   string
	Profile         string

	// Region to use, if blank the SDK's usual region resolution applies,
	// which is what happens inside Lambda
	Region string
}

// GetAWSConfig loads an AWS config according to the chosen strategy. The
// config's HTTP client is instrumented with otel
func (c AuthConfig) GetAWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return aws.Config{}, err
	}

	return instrument(cfg), nil
}

// instrument adds otel to the config's HTTP client. The SDK's own transport
// is kept, since it carries settings like AWS_CA_BUNDLE
func instrument(cfg aws.Config) aws.Config {
	var transport http.RoundTripper = http.DefaultTransport
	if bc, ok := cfg.HTTPClient.(*awshttp.BuildableClient); ok {
		transport = bc.GetTransport()
	}

	cfg.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}

	return cfg
}

func (c AuthConfig) loadConfig(ctx context.Context) (aws.Config, error) {
	options := []func(*config.LoadOptions) error{
		config.WithAppID("health-reporter"),
	}

	if c.Region != "" {
		options = append(options, config.WithRegion(c.Region))
	}

	switch c.Strategy {
	case "defaults", "":
		return config.LoadDefaultConfig(ctx, options...)
	case "access-key":
		if c.AccessKeyID == "" {
			return aws.Config{}, errors.New("with access-key strategy, aws-access-key-id cannot be blank")
		}
		if c.SecretAccessKey == "" {
			return aws.Config{}, errors.New("with access-key strategy, aws-secret-access-key cannot be blank")
		}
		if c.ExternalID != "" {
			return aws.Config{}, errors.New("with access-key strategy, aws-external-id must be blank")
		}
		if c.TargetRoleARN != "" {
			return aws.Config{}, errors.New("with access-key strategy, aws-target-role-arn must be blank")
		}
		if c.Profile != "" {
			return aws.Config{}, errors.New("with access-key strategy, aws-profile must be blank")
		}

		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))

		return config.LoadDefaultConfig(ctx, options...)
	case "external-id":
		if c.AccessKeyID != "" {
			return aws.Config{}, errors.New("with external-id strategy, aws-access-key-id must be blank")
		}
		if c.SecretAccessKey != "" {
			return aws.Config{}, errors.New("with external-id strategy, aws-secret-access-key must be blank")
		}
		if c.ExternalID == "" {
			return aws.Config{}, errors.New("with external-id strategy, aws-external-id cannot be blank")
		}
		if c.TargetRoleARN == "" {
			return aws.Config{}, errors.New("with external-id strategy, aws-target-role-arn cannot be blank")
		}
		if c.Profile != "" {
			return aws.Config{}, errors.New("with external-id strategy, aws-profile must be blank")
		}

		assumeConfig, err := config.LoadDefaultConfig(ctx, options...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("could not load default config from environment: %w", err)
		}

		options = append(options, config.WithCredentialsProvider(aws.NewCredentialsCache(
			stscredsv2.NewAssumeRoleProvider(
				sts.NewFromConfig(instrument(assumeConfig)),
				c.TargetRoleARN,
				func(aro *stscredsv2.AssumeRoleOptions) {
					aro.ExternalID = &c.ExternalID
				},
			)),
		))

		return config.LoadDefaultConfig(ctx, options...)
	case "sso-profile":
		if c.AccessKeyID != "" {
			return aws.Config{}, errors.New("with sso-profile strategy, aws-access-key-id must be blank")
		}
		if c.SecretAccessKey != "" {
			return aws.Config{}, errors.New("with sso-profile strategy, aws-secret-access-key must be blank")
		}
		if c.ExternalID != "" {
			return aws.Config{}, errors.New("with sso-profile strategy, aws-external-id must be blank")
		}
		if c.TargetRoleARN != "" {
			return aws.Config{}, errors.New("with sso-profile strategy, aws-target-role-arn must be blank")
		}
		if c.Profile == "" {
			return aws.Config{}, errors.New("with sso-profile strategy, aws-profile cannot be blank")
		}

		options = append(options, config.WithSharedConfigProfile(c.Profile))

		return config.LoadDefaultConfig(ctx, options...)
	default:
		return aws.Config{}, errors.New("invalid aws-access-strategy")
	}
}

// CallerIdentityAPI is used to work out which account the credentials belong
// to
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AccountID returns the ID of the account that the credentials belong to
func AccountID(ctx context.Context, client CallerIdentityAPI) (string, error) {
	callerID, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("error getting caller identity: %w", err)
	}

	return aws.ToString(callerID.Account), nil
}

// WaitForIdentity keeps calling GetCallerIdentity with an exponential backoff
// until it works, then returns the account ID. This is used by long running
// processes that may start before their credentials are available
func WaitForIdentity(ctx context.Context, client CallerIdentityAPI, maxTries uint) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (string, error) {
		idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		account, err := AccountID(idCtx, client)
		if err != nil {
			log.WithContext(ctx).WithError(err).Warn("Waiting for AWS credentials")
			return "", err
		}

		return account, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}
