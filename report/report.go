package report

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status is the outcome of a single health check
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusUnhealthy Status = "UNHEALTHY"
)

// NotAvailable is recorded as the response code when no response was received
const NotAvailable = "N/A"

// Empty is used for descriptive fields that a service didn't provide
const Empty = "EMPTY"

// Check is the result of one probe of a service
type Check struct {
	Status           Status `json:"status"`
	HTTPResponseCode string `json:"httpResponseCode"`
	Date             string `json:"date"`
}

// Record is the health of one service, along with the details that were used
// to find and check it
type Record struct {
	ComponentName     string  `json:"componentName"`
	ComponentCategory string  `json:"componentCategory"`
	ComponentType     string  `json:"componentType"`
	Description       string  `json:"description"`
	SSMKey            string  `json:"ssmKey"`
	HealthCheckURL    string  `json:"healthCheckUrl"`
	LandingPageURL    string  `json:"landingPageUrl"`
	HealthChecks      []Check `json:"healthChecks"`
}

// Report is the document that is published after each run
type Report struct {
	Services []Record `json:"services"`
}

// New returns an empty report
func New() *Report {
	return &Report{
		Services: make([]Record, 0),
	}
}

// NewCheck builds a check from an HTTP status code. Only 200 counts as
// healthy
func NewCheck(statusCode int, at time.Time) Check {
	status := StatusUnhealthy
	if statusCode == 200 {
		status = StatusHealthy
	}

	return Check{
		Status:           status,
		HTTPResponseCode: strconv.Itoa(statusCode),
		Date:             FormatDate(at),
	}
}

// FailedCheck is the check recorded when the service couldn't be reached
func FailedCheck(at time.Time) Check {
	return Check{
		Status:           StatusUnhealthy,
		HTTPResponseCode: NotAvailable,
		Date:             FormatDate(at),
	}
}

// FormatDate formats the time of a check as ISO 8601 in UTC
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// JSON renders the report the same way it is published
func (r *Report) JSON() ([]byte, error) {
	if r.Services == nil {
		r = &Report{Services: make([]Record, 0)}
	}
	return json.MarshalIndent(r, "", "    ")
}

// Healthy returns the number of services whose latest check passed
func (r *Report) Healthy() int {
	var healthy int
	for _, s := range r.Services {
		if n := len(s.HealthChecks); n > 0 && s.HealthChecks[n-1].Status == StatusHealthy {
			healthy++
		}
	}
	return healthy
}
