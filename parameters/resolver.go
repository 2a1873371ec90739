package parameters

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/overmindtech/health-reporter/internal"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MaxNamesPerCall is the most names that SSM will accept in a single
// GetParameters call
const MaxNamesPerCall = 10

// DefaultSharedRegion is the region that shared parameters live in
const DefaultSharedRegion = "us-west-2"

// ErrAccountLookup is returned when the account that owns the shared
// parameters can't be determined
var ErrAccountLookup = errors.New("could not determine shared services account")

// Values maps a parameter name, exactly as it was requested, to its value
type Values map[string]string

// Resolver looks up parameter values by name, optionally from parameters
// that have been shared from another account
type Resolver struct {
	Client SSMClient

	// The region that shared parameters are addressed in
	SharedRegion string
	// Parameter that holds the ID of the account that shares parameters
	AccountParameter string
	// Maximum names per GetParameters call, defaults to MaxNamesPerCall
	ChunkSize int
}

// NewResolver returns a resolver with the default shared region and account
// parameter
func NewResolver(client SSMClient) *Resolver {
	return &Resolver{
		Client:           client,
		SharedRegion:     DefaultSharedRegion,
		AccountParameter: internal.AccountParameter,
		ChunkSize:        MaxNamesPerCall,
	}
}

// SharedName converts a parameter name into the ARN that is needed to read
// the parameter when it has been shared from another account
func SharedName(region, accountID, name string) string {
	return arn.ARN{
		Partition: "aws",
		Service:   "ssm",
		Region:    region,
		AccountID: accountID,
		Resource:  "parameter" + name,
	}.String()
}

// Resolve returns the values of the requested parameters. Secure strings are
// decrypted. Names that don't exist are logged and left out of the result.
// Lookups are batched and a failing batch is skipped, so the only error
// returned is ErrAccountLookup, in which case the result is empty
func (r *Resolver) Resolve(ctx context.Context, names []string, shared bool) (Values, error) {
	ctx, span := tracing.Tracer().Start(ctx, "parameters.Resolve")
	defer span.End()

	span.SetAttributes(
		attribute.Int("health.parameters.requested", len(names)),
		attribute.Bool("health.parameters.shared", shared),
	)

	values := make(Values)

	if len(names) == 0 {
		return values, nil
	}

	// Maps the name that we send to SSM back to the name the caller asked for
	requested := make(map[string]string, len(names))
	lookup := make([]string, 0, len(names))

	if shared {
		accountID, err := r.sharedAccountID(ctx)
		if err != nil {
			log.WithContext(ctx).WithError(err).WithField("parameter", r.accountParameter()).Error("Error retrieving shared services account ID")
			span.RecordError(err)
			return values, err
		}

		for _, name := range names {
			qualified := SharedName(r.sharedRegion(), accountID, name)
			requested[qualified] = name
			lookup = append(lookup, qualified)
		}
	} else {
		for _, name := range names {
			requested[name] = name
			lookup = append(lookup, name)
		}
	}

	chunkSize := r.ChunkSize
	if chunkSize <= 0 || chunkSize > MaxNamesPerCall {
		chunkSize = MaxNamesPerCall
	}

	for start := 0; start < len(lookup); start += chunkSize {
		end := min(start+chunkSize, len(lookup))
		chunk := lookup[start:end]

		out, err := r.Client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          chunk,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			log.WithContext(ctx).WithError(err).WithFields(log.Fields{
				"errorCode":  errorCode(err),
				"parameters": chunk,
			}).Error("Error retrieving parameters")
			continue
		}

		if len(out.InvalidParameters) > 0 {
			log.WithContext(ctx).WithField("parameters", out.InvalidParameters).Warn("Invalid parameters")
		}

		for _, p := range out.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}

			name, ok := requested[*p.Name]
			if !ok && p.ARN != nil {
				name, ok = requested[*p.ARN]
			}
			if !ok {
				name = *p.Name
			}

			values[name] = *p.Value
		}
	}

	span.SetAttributes(attribute.Int("health.parameters.resolved", len(values)))

	return values, nil
}

func (r *Resolver) sharedAccountID(ctx context.Context) (string, error) {
	out, err := r.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(r.accountParameter()),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAccountLookup, err)
	}

	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("%w: parameter %v has no value", ErrAccountLookup, r.accountParameter())
	}

	return *out.Parameter.Value, nil
}

func (r *Resolver) sharedRegion() string {
	if r.SharedRegion == "" {
		return DefaultSharedRegion
	}
	return r.SharedRegion
}

func (r *Resolver) accountParameter() string {
	if r.AccountParameter == "" {
		return internal.AccountParameter
	}
	return r.AccountParameter
}

// errorCode returns the AWS error code of an error, or an empty string if it
// didn't come from an AWS API
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
