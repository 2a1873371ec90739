package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const contentType = "application/json"

// PutObjectAPI is the part of the S3 API used to store reports
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PublishResult says whether a report was stored. Message is the error text
// when it wasn't
type PublishResult struct {
	Published bool
	Message   string
}

// Publisher writes reports to an S3 bucket
type Publisher struct {
	Client PutObjectAPI

	// Key that is overwritten with every report, defaults to LatestKey
	LatestKey string
	// Stored as object metadata so that a report can be matched to the logs
	// of the run that produced it
	InvocationID string
}

// Publish stores the report under key and then under the latest key. Errors
// are never returned, a failed upload is reported in the result instead
func (p *Publisher) Publish(ctx context.Context, r *Report, bucket, key string) PublishResult {
	ctx, span := tracing.Tracer().Start(ctx, "report.Publish")
	defer span.End()

	latest := p.LatestKey
	if latest == "" {
		latest = LatestKey
	}

	span.SetAttributes(
		attribute.String("health.report.bucket", bucket),
		attribute.String("health.report.key", key),
		attribute.String("health.report.latestKey", latest),
	)

	body, err := r.JSON()
	if err != nil {
		return p.failed(ctx, fmt.Errorf("error encoding report: %w", err))
	}

	for _, k := range []string{key, latest} {
		err = p.put(ctx, bucket, k, body)
		if err != nil {
			return p.failed(ctx, err)
		}
	}

	log.WithContext(ctx).WithFields(log.Fields{
		"bucket": bucket,
		"key":    key,
		"latest": latest,
		"bytes":  len(body),
	}).Info("Published health report")

	return PublishResult{
		Published: true,
		Message:   "JSON uploaded successfully.",
	}
}

func (p *Publisher) put(ctx context.Context, bucket, key string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}

	if p.InvocationID != "" {
		input.Metadata = map[string]string{
			"invocation-id": p.InvocationID,
		}
	}

	_, err := p.Client.PutObject(ctx, input)

	return err
}

func (p *Publisher) failed(ctx context.Context, err error) PublishResult {
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, err.Error())

	fields := log.Fields{}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		fields["errorCode"] = apiErr.ErrorCode()
	}
	log.WithContext(ctx).WithError(err).WithFields(fields).Error("Error publishing health report")

	return PublishResult{
		Published: false,
		Message:   err.Error(),
	}
}
