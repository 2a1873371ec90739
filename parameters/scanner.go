package parameters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/overmindtech/health-reporter/internal"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// PageSize is the number of parameters requested per DescribeParameters page
const PageSize = 50

// Scanner finds the names of parameters under a prefix
type Scanner struct {
	Client ssm.DescribeParametersAPIClient
}

// ParameterInfo describes a parameter without its value
type ParameterInfo struct {
	Name             string
	Type             string
	LastModifiedDate *time.Time
}

// Prefix returns the prefix that health check parameters are stored under.
// Shared services all use the same prefix, whereas each deployment has its
// own
func Prefix(shared bool, project, venue string) string {
	if shared {
		return internal.SharedComponentPrefix
	}
	return internal.ComponentPrefix(project, venue)
}

// Scan returns the names of all health check parameters for either the shared
// services or the given deployment, in the order that SSM returned them. If
// paging fails part of the way through the names found so far are returned
// along with the error
func (s *Scanner) Scan(ctx context.Context, shared bool, project, venue string) ([]string, error) {
	prefix := Prefix(shared, project, venue)

	ctx, span := tracing.Tracer().Start(ctx, "parameters.Scan")
	defer span.End()

	span.SetAttributes(
		attribute.String("health.parameters.prefix", prefix),
		attribute.Bool("health.parameters.shared", shared),
	)

	names := make([]string, 0)
	seen := make(map[string]bool)

	err := s.describe(ctx, shared, prefix, func(p types.ParameterMetadata) {
		if p.Name == nil {
			return
		}
		name := *p.Name

		// The server side filter should have done this already
		if !strings.HasPrefix(name, prefix) || seen[name] {
			return
		}

		seen[name] = true
		names = append(names, name)
	})

	span.SetAttributes(attribute.Int("health.parameters.found", len(names)))

	if err != nil {
		span.RecordError(err)
		return names, fmt.Errorf("error listing parameters under %v: %w", prefix, err)
	}

	log.WithContext(ctx).WithFields(log.Fields{
		"prefix": prefix,
		"shared": shared,
		"found":  len(names),
	}).Debug("Scanned parameters")

	return names, nil
}

// List returns information about every parameter that starts with the given
// prefix. An empty prefix lists everything
func (s *Scanner) List(ctx context.Context, shared bool, prefix string) ([]ParameterInfo, error) {
	infos := make([]ParameterInfo, 0)

	err := s.describe(ctx, shared, prefix, func(p types.ParameterMetadata) {
		if p.Name == nil {
			return
		}

		infos = append(infos, ParameterInfo{
			Name:             *p.Name,
			Type:             string(p.Type),
			LastModifiedDate: p.LastModifiedDate,
		})
	})
	if err != nil {
		return infos, fmt.Errorf("error listing parameters: %w", err)
	}

	return infos, nil
}

func (s *Scanner) describe(ctx context.Context, shared bool, prefix string, fn func(types.ParameterMetadata)) error {
	input := &ssm.DescribeParametersInput{
		Shared: aws.Bool(shared),
	}

	if prefix != "" {
		input.ParameterFilters = []types.ParameterStringFilter{
			{
				Key:    aws.String("Name"),
				Option: aws.String("BeginsWith"),
				Values: []string{prefix},
			},
		}
	}

	paginator := ssm.NewDescribeParametersPaginator(s.Client, input, func(o *ssm.DescribeParametersPaginatorOptions) {
		o.Limit = PageSize
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}

		for _, p := range page.Parameters {
			fn(p)
		}
	}

	return nil
}
