package reporter

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"
)

// Response is what the Lambda function returns. It has the same fields as an
// API Gateway proxy response
type Response struct {
	StatusCode int               `json:"statusCode"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
}

// Handle is the Lambda handler for the scheduled event. The response body is
// the report whether or not it could be stored
func (r *Reporter) Handle(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	log.WithContext(ctx).WithFields(log.Fields{
		"eventId":    event.ID,
		"detailType": event.DetailType,
		"source":     event.Source,
		"time":       event.Time,
	}).Info("Received scheduled event")

	result, err := r.Run(ctx)
	if err != nil {
		log.WithContext(ctx).WithError(err).Error("Health check failed")
		return Response{}, err
	}

	return NewResponse(result)
}

// NewResponse wraps the result's report in a successful response
func NewResponse(result *Result) (Response, error) {
	body, err := result.Report.JSON()
	if err != nil {
		return Response{}, err
	}

	return Response{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}
