package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/overmindtech/health-reporter/report"
)

// ErrMissingHealthCheckURL is returned for descriptors that don't say where
// to check the service
var ErrMissingHealthCheckURL = errors.New("descriptor has no healthCheckUrl")

// Descriptor is the JSON document that each component stores in its health
// check parameter
type Descriptor struct {
	ComponentName     string `json:"componentName"`
	ComponentCategory string `json:"componentCategory"`
	ComponentType     string `json:"componentType"`
	Description       string `json:"description"`
	HealthCheckURL    string `json:"healthCheckUrl"`
	LandingPageURL    string `json:"landingPageUrl"`
}

// Entry is a discovered parameter waiting to be probed
type Entry struct {
	// Name of the parameter the descriptor was read from
	Key   string
	Value string
}

// ParseDescriptor reads the value of a health check parameter. Values are
// normally JSON descriptors, but malformed JSON is repaired where possible
// and older components store nothing but the URL to check
func ParseDescriptor(key, value string) (Descriptor, error) {
	var d Descriptor

	err := decodeObject(value, &d)
	if err != nil {
		if u, ok := bareURL(value); ok {
			d = Descriptor{
				ComponentName:  key,
				HealthCheckURL: u,
			}
		} else {
			return Descriptor{ComponentName: key}, fmt.Errorf("could not parse descriptor in %v: %w", key, err)
		}
	}

	if d.ComponentName == "" {
		d.ComponentName = key
	}

	d.ComponentCategory = orEmpty(d.ComponentCategory)
	d.ComponentType = orEmpty(d.ComponentType)
	d.Description = orEmpty(d.Description)
	d.LandingPageURL = orEmpty(d.LandingPageURL)

	if d.HealthCheckURL == "" {
		return d, fmt.Errorf("%w: %v", ErrMissingHealthCheckURL, key)
	}

	return d, nil
}

// Record converts the descriptor into a report record with the given checks
func (d Descriptor) Record(key string, checks ...report.Check) report.Record {
	return report.Record{
		ComponentName:     d.ComponentName,
		ComponentCategory: orEmpty(d.ComponentCategory),
		ComponentType:     orEmpty(d.ComponentType),
		Description:       orEmpty(d.Description),
		SSMKey:            key,
		HealthCheckURL:    d.HealthCheckURL,
		LandingPageURL:    orEmpty(d.LandingPageURL),
		HealthChecks:      checks,
	}
}

func decodeObject(value string, d *Descriptor) error {
	trimmed := strings.TrimSpace(value)

	err := json.Unmarshal([]byte(trimmed), d)
	if err == nil {
		return nil
	}

	// Only try to repair things that were meant to be objects, otherwise a
	// bare URL would be "repaired" into a JSON string
	if !strings.HasPrefix(trimmed, "{") {
		return err
	}

	repaired, repairErr := jsonrepair.JSONRepair(trimmed)
	if repairErr != nil {
		return err
	}

	*d = Descriptor{}
	return json.Unmarshal([]byte(repaired), d)
}

func bareURL(value string) (string, bool) {
	value = strings.TrimSpace(value)

	// Some components store the URL as a JSON string
	var quoted string
	if strings.HasPrefix(value, `"`) && json.Unmarshal([]byte(value), &quoted) == nil {
		value = strings.TrimSpace(quoted)
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return "", false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	return value, true
}

func orEmpty(s string) string {
	if s == "" {
		return report.Empty
	}
	return s
}
