package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/overmindtech/health-reporter/report"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultConcurrency is the number of services that are checked at once
const DefaultConcurrency = 8

// Maximum number of bytes read from a response before the connection is
// closed. The body itself is ignored
const maxDrainBytes = 64 * 1024

// Used when a Prober has no Client
var defaultClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// Prober checks the health of services by sending a GET to their health check
// URL
type Prober struct {
	// Client used for requests. Defaults to an otel instrumented client with
	// no timeout
	Client *http.Client
	// Maximum number of concurrent requests, 1 checks services one at a time
	Concurrency int
	// Returns the time that is recorded for each check, defaults to time.Now
	Now func() time.Time
}

// NewProber returns a prober whose requests time out after the given duration.
// A zero timeout means that requests can take as long as they need
func NewProber(timeout time.Duration, concurrency int) *Prober {
	return &Prober{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		Concurrency: concurrency,
	}
}

// Probe checks every entry and returns a report with one record per entry,
// in the same order. Failures are recorded as unhealthy and never stop the
// other checks
func (p *Prober) Probe(ctx context.Context, entries []Entry, token string) *report.Report {
	records := make([]report.Record, len(entries))

	workers := p.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}

	wp := pool.New().WithMaxGoroutines(workers)

	for i, entry := range entries {
		wp.Go(func() {
			// Each goroutine only ever writes to its own index
			records[i] = p.probeEntry(ctx, entry, token)
		})
	}

	wp.Wait()

	r := report.New()
	r.Services = append(r.Services, records...)

	log.WithContext(ctx).WithFields(log.Fields{
		"services": len(r.Services),
		"healthy":  r.Healthy(),
	}).Info("Finished health checks")

	return r
}

func (p *Prober) probeEntry(ctx context.Context, entry Entry, token string) report.Record {
	ctx, span := tracing.Tracer().Start(ctx, "probe.Service")
	defer span.End()

	span.SetAttributes(attribute.String("health.ssmKey", entry.Key))

	d, err := ParseDescriptor(entry.Key, entry.Value)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithField("ssmKey", entry.Key).Error("Error reading service descriptor")
		span.SetStatus(codes.Error, err.Error())
		return d.Record(entry.Key, report.FailedCheck(p.now()))
	}

	span.SetAttributes(
		attribute.String("health.componentName", d.ComponentName),
		attribute.String("health.healthCheckUrl", d.HealthCheckURL),
	)

	statusCode, err := p.get(ctx, d.HealthCheckURL, token)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(log.Fields{
			"ssmKey":         entry.Key,
			"componentName":  d.ComponentName,
			"healthCheckUrl": d.HealthCheckURL,
		}).Errorf("Error accessing %v", d.HealthCheckURL)
		span.SetStatus(codes.Error, err.Error())
		return d.Record(entry.Key, report.FailedCheck(p.now()))
	}

	check := report.NewCheck(statusCode, p.now())

	span.SetAttributes(
		attribute.Int("health.httpResponseCode", statusCode),
		attribute.String("health.status", string(check.Status)),
	)

	log.WithContext(ctx).WithFields(log.Fields{
		"componentName": d.ComponentName,
		"status":        check.Status,
		"code":          statusCode,
	}).Debug("Checked service")

	return d.Record(entry.Key, check)
}

func (p *Prober) get(ctx context.Context, target, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", fmt.Sprintf("health-reporter/%v (%v/%v)", tracing.Version(), runtime.GOOS, runtime.GOARCH))

	client := p.Client
	if client == nil {
		client = defaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxDrainBytes))

	return res.StatusCode, nil
}

func (p *Prober) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
