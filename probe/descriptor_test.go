package probe

import (
	"testing"

	"github.com/overmindtech/health-reporter/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	const key = "/unity/sips/dev/component/a"

	tests := []struct {
		name    string
		value   string
		want    Descriptor
		wantErr error
	}{
		{
			name:  "full",
			value: `{"componentName":"A","componentCategory":"catalogs","componentType":"ui","description":"Service A","healthCheckUrl":"http://a/health","landingPageUrl":"http://a/"}`,
			want: Descriptor{
				ComponentName:     "A",
				ComponentCategory: "catalogs",
				ComponentType:     "ui",
				Description:       "Service A",
				HealthCheckURL:    "http://a/health",
				LandingPageURL:    "http://a/",
			},
		},
		{
			name:  "defaults",
			value: `{"componentName":"A","healthCheckUrl":"http://a/health"}`,
			want: Descriptor{
				ComponentName:     "A",
				ComponentCategory: report.Empty,
				ComponentType:     report.Empty,
				Description:       report.Empty,
				HealthCheckURL:    "http://a/health",
				LandingPageURL:    report.Empty,
			},
		},
		{
			name:  "unknown fields are ignored",
			value: `{"componentName":"A","healthCheckUrl":"http://a/health","owner":"team"}`,
			want: Descriptor{
				ComponentName:     "A",
				ComponentCategory: report.Empty,
				ComponentType:     report.Empty,
				Description:       report.Empty,
				HealthCheckURL:    "http://a/health",
				LandingPageURL:    report.Empty,
			},
		},
		{
			name:  "no name",
			value: `{"healthCheckUrl":"http://a/health"}`,
			want: Descriptor{
				ComponentName:     key,
				ComponentCategory: report.Empty,
				ComponentType:     report.Empty,
				Description:       report.Empty,
				HealthCheckURL:    "http://a/health",
				LandingPageURL:    report.Empty,
			},
		},
		{
			name:  "trailing comma",
			value: `{"componentName":"A","healthCheckUrl":"http://a/health",}`,
			want: Descriptor{
				ComponentName:     "A",
				ComponentCategory: report.Empty,
				ComponentType:     report.Empty,
				Description:       report.Empty,
				HealthCheckURL:    "http://a/health",
				LandingPageURL:    report.Empty,
			},
		},
		{
			name:  "bare url",
			value: "https://a.example.com/health\n",
			want: Descriptor{
				ComponentName:     key,
				ComponentCategory: report.Empty,
				ComponentType:     report.Empty,
				Description:       report.Empty,
				HealthCheckURL:    "https://a.example.com/health",
				LandingPageURL:    report.Empty,
			},
		},
		{
			name:  "quoted url",
			value: `"http://a/health"`,
			want: Descriptor{
				ComponentName:     key,
				ComponentCategory: report.Empty,
				ComponentType:     report.Empty,
				Description:       report.Empty,
				HealthCheckURL:    "http://a/health",
				LandingPageURL:    report.Empty,
			},
		},
		{
			name:    "no health check url",
			value:   `{"componentName":"A"}`,
			wantErr: ErrMissingHealthCheckURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDescriptor(key, tt.value)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDescriptorInvalid(t *testing.T) {
	for _, value := range []string{
		"",
		"not a descriptor",
		"ftp://a.example.com/health",
		"/relative/path",
		"42",
	} {
		t.Run(value, func(t *testing.T) {
			d, err := ParseDescriptor("/unity/sips/dev/component/a", value)

			assert.Error(t, err)
			assert.Equal(t, "/unity/sips/dev/component/a", d.ComponentName)
		})
	}
}

func TestDescriptorRecord(t *testing.T) {
	d := Descriptor{
		ComponentName:  "A",
		HealthCheckURL: "http://a/health",
	}

	check := report.NewCheck(200, testTime)
	record := d.Record("/unity/sips/dev/component/a", check)

	assert.Equal(t, report.Record{
		ComponentName:     "A",
		ComponentCategory: report.Empty,
		ComponentType:     report.Empty,
		Description:       report.Empty,
		SSMKey:            "/unity/sips/dev/component/a",
		HealthCheckURL:    "http://a/health",
		LandingPageURL:    report.Empty,
		HealthChecks:      []report.Check{check},
	}, record)
}
