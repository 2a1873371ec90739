package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/overmindtech/health-reporter/awsconfig"
	"github.com/overmindtech/health-reporter/cognito"
	"github.com/overmindtech/health-reporter/internal"
	"github.com/overmindtech/health-reporter/logging"
	"github.com/overmindtech/health-reporter/parameters"
	"github.com/overmindtech/health-reporter/probe"
	"github.com/overmindtech/health-reporter/report"
	"github.com/overmindtech/health-reporter/reporter"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
)

var cfgFile string
var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "health-reporter",
	Short: "Checks the health of Unity services and publishes a report to S3",
	Long: `The health reporter discovers the health check URLs of the shared
services and of one project/venue from SSM Parameter Store, logs in to
Cognito as the monitoring user, checks every service and writes the result
to the venue's bucket.

When started by AWS Lambda (AWS_LAMBDA_RUNTIME_API is set) this starts the
Lambda runtime, otherwise use one of the commands below.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runningInLambda() {
			return startLambda(cmd.Context())
		}

		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}

	var fe flagError
	var le loggedError
	switch {
	case errors.As(err, &fe):
		fmt.Fprintln(os.Stderr, fe.usage)
	case errors.As(err, &le):
		sentry.CaptureException(err)
		log.WithContext(ctx).WithError(le.err).WithFields(le.fields).Error(le.message)
	default:
		sentry.CaptureException(err)
		log.WithContext(ctx).WithError(err).Error("Error running command")
	}

	tracing.ShutdownTracer(context.Background())

	stop()
	os.Exit(1)
}

func init() {
	cobra.OnInitialize(initConfig)

	// General config options
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of environment variables to load if it exists")
	rootCmd.PersistentFlags().String("log", "info", "Set the log level. Valid values: panic, fatal, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().String("log-format", logging.FormatJSON, "Set the log format. Valid values: json, text")

	// The deployment to check
	rootCmd.PersistentFlags().String("project", "", "The project whose venue services are checked ($PROJECT)")
	rootCmd.PersistentFlags().String("venue", "", "The venue whose services are checked ($VENUE)")
	rootCmd.PersistentFlags().String("bucket", "", "The bucket to write reports to. Defaults to unity-<project>-<venue>-bucket")
	rootCmd.PersistentFlags().String("latest-key", report.LatestKey, "The key that always holds the latest report")

	// Where credentials and shared services are found
	rootCmd.PersistentFlags().String("shared-region", parameters.DefaultSharedRegion, "The region that shared parameters are read from")
	rootCmd.PersistentFlags().String("account-parameter", internal.AccountParameter, "The parameter that holds the shared services account ID")
	rootCmd.PersistentFlags().String("username-parameter", cognito.DefaultUsernameParameter, "The parameter that holds the monitoring username")
	rootCmd.PersistentFlags().String("password-parameter", cognito.DefaultPasswordParameter, "The parameter that holds the monitoring password")
	rootCmd.PersistentFlags().String("client-id-parameter", cognito.DefaultClientIDParameter, "The parameter that holds the Cognito app client ID")

	// Probing
	rootCmd.PersistentFlags().Int("concurrency", probe.DefaultConcurrency, "The number of services to check at once")
	rootCmd.PersistentFlags().Duration("probe-timeout", 0, "Timeout for each health check, 0 means no timeout")

	// AWS access
	rootCmd.PersistentFlags().String("aws-access-strategy", "defaults", "The strategy to use to access AWS. Valid values: 'access-key', 'external-id', 'sso-profile', 'defaults'. Default: 'defaults'.")
	rootCmd.PersistentFlags().String("aws-access-key-id", "", "The ID of the access key to use")
	rootCmd.PersistentFlags().String("aws-secret-access-key", "", "The secret access key to use for auth")
	rootCmd.PersistentFlags().String("aws-external-id", "", "The external ID to use when assuming the role")
	rootCmd.PersistentFlags().String("aws-target-role-arn", "", "The role to assume")
	rootCmd.PersistentFlags().String("aws-profile", "", "The AWS SSO Profile to use. Defaults to $AWS_PROFILE, then whatever the AWS SDK's SSO config defaults to")
	rootCmd.PersistentFlags().String("aws-region", "", "The region to use. Defaults to the SDK's region resolution, e.g. $AWS_REGION")

	// tracing
	rootCmd.PersistentFlags().String("honeycomb-api-key", "", "If specified, configures opentelemetry libraries to submit traces to honeycomb")
	rootCmd.PersistentFlags().String("sentry-dsn", "", "If specified, configures sentry libraries to capture errors")
	rootCmd.PersistentFlags().String("run-mode", "release", "Set the run mode for this service, 'release', 'debug' or 'test'. Defaults to 'release'.")
	rootCmd.PersistentFlags().Bool("stdout-trace-dump", false, "Dump all otel traces to stdout for debugging")
	rootCmd.PersistentFlags().String("termination-log", "/dev/termination-log", "File that fatal errors are written to, blank to disable")

	// Bind these to viper
	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))

	// Run this before we do anything to set up the loglevel
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := logging.Configure(log.StandardLogger(), viper.GetString("log-format"), viper.GetString("log"), nil); err != nil {
			log.WithError(err).Error("Could not configure logging")
		}
		logging.RouteSlog(log.StandardLogger())

		if path := viper.GetString("termination-log"); path != "" && !runningInLambda() {
			log.AddHook(TerminationLogHook{Path: path})
		}

		// Bind flags that haven't been set to the values from viper of we have them
		var bindErr error
		cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			// Bind the flag to viper only if it has a non-empty default
			if f.DefValue != "" || f.Changed {
				if err := viper.BindPFlag(f.Name, f); err != nil {
					bindErr = err
				}
			}
		})
		if bindErr != nil {
			return fmt.Errorf("could not bind flag to viper: %w", bindErr)
		}

		if err := tracing.InitTracerWithUpstreams("health-reporter", viper.GetString("honeycomb-api-key"), viper.GetString("sentry-dsn")); err != nil {
			return err
		}

		log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
			log.AllLevels[:log.GetLevel()+1]...,
		)))

		return nil
	}
	// shut down tracing at the end of the process
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		tracing.ShutdownTracer(context.Background())
	}
}

// initConfig reads in the env file, config file and ENV variables if set.
func initConfig() {
	if err := loadEnvFile(envFile); err != nil {
		log.WithError(err).WithField("env-file", envFile).Error("Could not load env file")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	replacer := strings.NewReplacer("-", "_")

	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if cfgFile != "" {
		if err := viper.ReadInConfig(); err == nil {
			log.Infof("Using config file: %v", viper.ConfigFileUsed())
		} else {
			log.WithError(err).Errorf("Could not read config file %v", cfgFile)
		}
	}
}

// loadEnvFile sets any variables in the file that aren't already set in the
// environment. A missing file is not an error
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

func runningInLambda() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""
}

func authConfigFromViper() awsconfig.AuthConfig {
	return awsconfig.AuthConfig{
		Strategy:        viper.GetString("aws-access-strategy"),
		AccessKeyID:     viper.GetString("aws-access-key-id"),
		SecretAccessKey: viper.GetString("aws-secret-access-key"),
		ExternalID:      viper.GetString("aws-external-id"),
		TargetRoleARN:   viper.GetString("aws-target-role-arn"),
		Profile:         viper.GetString("aws-profile"),
		Region:          viper.GetString("aws-region"),
	}
}

// newReporter creates a reporter from the config in viper
func newReporter(ctx context.Context) (*reporter.Reporter, aws.Config, error) {
	c, err := reporter.ConfigFromViper()
	if err != nil {
		return nil, aws.Config{}, flagError{usage: fmt.Sprintf("%v\n\nset --project and --venue, or $PROJECT and $VENUE", err)}
	}

	authConfig := authConfigFromViper()

	log.WithContext(ctx).WithFields(log.Fields{
		"project":             c.Project,
		"venue":               c.Venue,
		"bucket":              c.BucketName(),
		"shared-region":       c.SharedRegion,
		"concurrency":         c.Concurrency,
		"probe-timeout":       c.ProbeTimeout,
		"aws-access-strategy": authConfig.Strategy,
		"aws-target-role-arn": authConfig.TargetRoleARN,
		"aws-profile":         authConfig.Profile,
		"aws-region":          authConfig.Region,
	}).Info("Got config")

	awsConfig, err := authConfig.GetAWSConfig(ctx)
	if err != nil {
		return nil, aws.Config{}, loggedError{
			err:     err,
			fields:  log.Fields{"aws-access-strategy": authConfig.Strategy},
			message: "Could not create AWS config",
		}
	}

	return reporter.New(c, awsConfig), awsConfig, nil
}

// TerminationLogHook A hook that logs fatal errors to the termination log
type TerminationLogHook struct {
	Path string
}

func (t TerminationLogHook) Levels() []log.Level {
	return []log.Level{log.FatalLevel}
}

func (t TerminationLogHook) Fire(e *log.Entry) error {
	// shutdown tracing first to ensure all spans are flushed
	tracing.ShutdownTracer(context.Background())
	tLog, err := os.OpenFile(t.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer tLog.Close()

	message := e.Message

	for k, v := range e.Data {
		message = fmt.Sprintf("%v %v=%v", message, k, v)
	}

	_, err = tLog.WriteString(message)

	return err
}
