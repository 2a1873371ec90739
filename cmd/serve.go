package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/getsentry/sentry-go"
	"github.com/overmindtech/health-reporter/awsconfig"
	"github.com/overmindtech/health-reporter/reporter"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run health checks on a schedule",
	Long: `Runs a health check every --interval until interrupted. This is for
running outside of Lambda, e.g. in a container. The /healthz endpoint
reports whether the last run succeeded.`,
	RunE: Serve,
}

// lastRun is the outcome of the most recent run, for /healthz
type lastRun struct {
	mu       sync.Mutex
	finished time.Time
	err      error
}

func (l *lastRun) set(at time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.finished = at
	l.err = err
}

func (l *lastRun) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	_, span := tracing.HealthCheckTracer().Start(r.Context(), "healthcheck")
	defer span.End()

	l.mu.Lock()
	finished, err := l.finished, l.err
	l.mu.Unlock()

	if !finished.IsZero() {
		span.SetAttributes(attribute.String("health.lastRun", finished.Format(time.RFC3339)))
	}

	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Fprint(rw, "ok")
}

func Serve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	defer tracing.LogRecoverToReturn(ctx, "health-reporter.serve")

	interval := viper.GetDuration("interval")
	if interval <= 0 {
		return flagError{usage: fmt.Sprintf("--interval must be greater than zero\n\n%v", cmd.UsageString())}
	}

	r, awsConfig, err := newReporter(ctx)
	if err != nil {
		return err
	}

	account, err := awsconfig.WaitForIdentity(ctx, sts.NewFromConfig(awsConfig), viper.GetUint("max-identity-tries"))
	if err != nil {
		return loggedError{
			err:     err,
			fields:  log.Fields{"max-identity-tries": viper.GetUint("max-identity-tries")},
			message: "Could not get AWS identity",
		}
	}

	log.WithContext(ctx).WithField("account", account).Info("Got AWS identity")

	status := &lastRun{}
	healthCheckPort := viper.GetInt("health-check-port")
	healthCheckPath := "/healthz"

	mux := http.NewServeMux()
	mux.Handle(healthCheckPath, status)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%v", healthCheckPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.WithFields(log.Fields{
		"port": healthCheckPort,
		"path": healthCheckPath,
	}).Debug("Starting healthcheck server")

	go func() {
		defer sentry.Recover()

		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return
		}

		log.WithError(err).WithFields(log.Fields{
			"port": healthCheckPort,
			"path": healthCheckPath,
		}).Error("Could not start HTTP server for /healthz health checks")
	}()

	runScheduled(ctx, r, interval, status)

	log.Info("Stopping")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

// runScheduled runs straight away and then every interval until the context
// is cancelled. Runs never overlap, a run that takes longer than the
// interval delays the next one
func runScheduled(ctx context.Context, r *reporter.Reporter, interval time.Duration, status *lastRun) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runOnce(ctx, r, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, r *reporter.Reporter, status *lastRun) {
	defer tracing.LogRecoverToReturn(ctx, "health-reporter.serve.run")

	result, err := r.Run(ctx)
	if err == nil && !result.Publish.Published {
		err = errors.New(result.Publish.Message)
	}

	if err != nil {
		sentry.CaptureException(err)
		log.WithContext(ctx).WithError(err).Error("Scheduled health check failed")
	}

	status.set(time.Now(), err)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Duration("interval", 15*time.Minute, "How often to run the health check")
	serveCmd.Flags().Int("health-check-port", 8080, "The port that the health check should run on")
	serveCmd.Flags().Uint("max-identity-tries", 20, "How many times to try to get AWS credentials at startup")
	cobra.CheckErr(viper.BindPFlags(serveCmd.Flags()))
}
