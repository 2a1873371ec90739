package cmd

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/overmindtech/health-reporter/reporter"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// lambdaCmd represents the lambda command
var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Start the AWS Lambda runtime",
	Long: `Starts the AWS Lambda runtime and runs a health check for every
scheduled event that the function receives. This is what the root command
does when it detects that it is running in Lambda.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startLambda(cmd.Context())
	},
}

// startLambda creates the reporter once and then serves invocations until
// the runtime shuts the process down
func startLambda(ctx context.Context) error {
	r, _, err := newReporter(ctx)
	if err != nil {
		return err
	}

	log.WithContext(ctx).Info("Starting Lambda runtime")

	lambda.StartWithOptions(
		lambdaHandler(r),
		lambda.WithContext(ctx),
		lambda.WithEnableSIGTERM(func() {
			tracing.ShutdownTracer(context.Background())
		}),
	)

	return nil
}

func lambdaHandler(r *reporter.Reporter) func(context.Context, events.CloudWatchEvent) (reporter.Response, error) {
	return func(ctx context.Context, event events.CloudWatchEvent) (reporter.Response, error) {
		// The process can be frozen as soon as the handler returns
		defer tracing.FlushTracer(ctx)

		return r.Handle(ctx, event)
	}
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}
