package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/overmindtech/health-reporter/cognito"
	"github.com/overmindtech/health-reporter/parameters"
	"github.com/overmindtech/health-reporter/probe"
	"github.com/overmindtech/health-reporter/report"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reporter runs the whole health check: it finds the services, logs in,
// checks each service and stores the report
type Reporter struct {
	Config Config

	Resolver  *parameters.Resolver
	Scanner   *parameters.Scanner
	Exchanger *cognito.Exchanger
	Prober    *probe.Prober
	Publisher *report.Publisher

	// Returns the time used to name the report, defaults to time.Now
	Now func() time.Time
}

// Result is the outcome of a single run
type Result struct {
	InvocationID string
	Bucket       string
	ObjectKey    string
	Report       *report.Report
	Publish      report.PublishResult
}

// New creates a reporter and all of its AWS clients from the given config.
// The clients are reused for every run
func New(c Config, awsConfig aws.Config) *Reporter {
	ssmClient := ssm.NewFromConfig(awsConfig)

	resolver := parameters.NewResolver(ssmClient)
	resolver.SharedRegion = c.SharedRegion
	resolver.AccountParameter = c.AccountParameter

	exchanger := cognito.NewExchanger(cip.NewFromConfig(awsConfig))
	exchanger.UsernameParameter = c.UsernameParameter
	exchanger.PasswordParameter = c.PasswordParameter
	exchanger.ClientIDParameter = c.ClientIDParameter

	return &Reporter{
		Config:    c,
		Resolver:  resolver,
		Scanner:   &parameters.Scanner{Client: ssmClient},
		Exchanger: exchanger,
		Prober:    probe.NewProber(c.ProbeTimeout, c.Concurrency),
		Publisher: &report.Publisher{
			Client:    s3.NewFromConfig(awsConfig),
			LatestKey: c.LatestKey,
		},
	}
}

// Run performs one health check of every shared and local service. Problems
// finding services only shrink the report, whereas failing to log in is
// returned as an error since no service could be checked. A failed upload
// is recorded in the result and is not an error
func (r *Reporter) Run(ctx context.Context) (*Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "reporter.Run")
	defer span.End()

	memBefore := tracing.ReadMemoryStats()
	defer func() {
		tracing.SetMemoryAttributes(span, "health.run", memBefore, tracing.ReadMemoryStats())
	}()

	result := &Result{
		InvocationID: InvocationID(ctx),
		Bucket:       r.Config.BucketName(),
		ObjectKey:    report.ObjectKey(r.now()),
	}

	span.SetAttributes(
		attribute.String("health.invocationId", result.InvocationID),
		attribute.String("health.project", r.Config.Project),
		attribute.String("health.venue", r.Config.Venue),
	)

	lf := log.Fields{
		"invocationId": result.InvocationID,
		"project":      r.Config.Project,
		"venue":        r.Config.Venue,
	}

	creds, err := r.Resolver.Resolve(ctx, r.Exchanger.CredentialParameters(), true)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Error resolving credentials")
	}

	sharedKeys, err := r.Scanner.Scan(ctx, true, r.Config.Project, r.Config.Venue)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Error discovering shared services")
	}

	localKeys, err := r.Scanner.Scan(ctx, false, r.Config.Project, r.Config.Venue)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Error discovering venue services")
	}

	token, err := r.Exchanger.Token(ctx, creds)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, fmt.Errorf("error getting access token: %w", err)
	}

	sharedValues, err := r.Resolver.Resolve(ctx, sharedKeys, true)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Error resolving shared services")
	}

	localValues, err := r.Resolver.Resolve(ctx, localKeys, false)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Error resolving venue services")
	}

	entries := Merge(
		Source{Keys: sharedKeys, Values: sharedValues},
		Source{Keys: localKeys, Values: localValues},
	)

	log.WithContext(ctx).WithFields(lf).WithFields(log.Fields{
		"shared":   len(sharedKeys),
		"local":    len(localKeys),
		"services": len(entries),
	}).Info("Discovered services")

	result.Report = r.Prober.Probe(ctx, entries, token)

	publisher := *r.Publisher
	publisher.InvocationID = result.InvocationID

	result.Publish = publisher.Publish(ctx, result.Report, result.Bucket, result.ObjectKey)

	span.SetAttributes(
		attribute.Int("health.services", len(result.Report.Services)),
		attribute.Int("health.healthy", result.Report.Healthy()),
		attribute.Bool("health.published", result.Publish.Published),
	)

	log.WithContext(ctx).WithFields(lf).WithFields(log.Fields{
		"bucket":    result.Bucket,
		"key":       result.ObjectKey,
		"published": result.Publish.Published,
		"message":   result.Publish.Message,
	}).Info("Health check complete")

	return result, nil
}

func (r *Reporter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Source is a list of discovered keys and the values that were resolved for
// them
type Source struct {
	Keys   []string
	Values parameters.Values
}

// Merge combines sources into the list of services to check, in the order
// the keys were discovered. A key that appears more than once keeps its
// first position and takes the value of the last source that resolved it.
// Keys without a value are dropped
func Merge(sources ...Source) []probe.Entry {
	merged := orderedmap.New[string, string]()

	for _, source := range sources {
		for _, key := range source.Keys {
			value, ok := source.Values[key]
			if !ok {
				log.WithField("ssmKey", key).Debug("Skipping parameter without a value")
				continue
			}

			merged.Set(key, value)
		}
	}

	entries := make([]probe.Entry, 0, merged.Len())
	for pair := merged.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, probe.Entry{Key: pair.Key, Value: pair.Value})
	}

	return entries
}

// InvocationID returns the Lambda request ID when running inside Lambda, or
// a new random ID otherwise
func InvocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}

	return uuid.New().String()
}
