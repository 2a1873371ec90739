package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/overmindtech/health-reporter/cognito"
	"github.com/overmindtech/health-reporter/internal"
	"github.com/overmindtech/health-reporter/parameters"
	"github.com/overmindtech/health-reporter/probe"
	"github.com/overmindtech/health-reporter/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedAccount = "111122223333"

var testTime = time.Date(2024, 5, 1, 12, 30, 5, 0, time.UTC)

// fakeSSM stores parameters in memory. Shared parameters are only
// returned when requested by ARN, the way that parameters shared from
// another account behave
type fakeSSM struct {
	account string

	shared      map[string]string
	sharedOrder []string
	local       map[string]string
	localOrder  []string
}

func newFakeSSM() *fakeSSM {
	return &fakeSSM{
		account: sharedAccount,
		shared: map[string]string{
			cognito.DefaultUsernameParameter: "monitor",
			cognito.DefaultPasswordParameter: "hunter2",
			cognito.DefaultClientIDParameter: "client-1",
		},
		local: map[string]string{},
	}
}

func (f *fakeSSM) addShared(name, value string) {
	f.shared[name] = value
	f.sharedOrder = append(f.sharedOrder, name)
}

func (f *fakeSSM) addLocal(name, value string) {
	f.local[name] = value
	f.localOrder = append(f.localOrder, name)
}

func (f *fakeSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if aws.ToString(params.Name) != internal.AccountParameter || f.account == "" {
		return nil, &ssmtypes.ParameterNotFound{}
	}

	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  params.Name,
			Value: aws.String(f.account),
		},
	}, nil
}

func (f *fakeSSM) GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	out := &ssm.GetParametersOutput{}
	prefix := "arn:aws:ssm:us-west-2:" + sharedAccount + ":parameter"

	for _, name := range params.Names {
		var value string
		var ok bool

		if plain, isARN := strings.CutPrefix(name, prefix); isARN {
			value, ok = f.shared[plain]
		} else {
			value, ok = f.local[name]
		}

		if !ok {
			out.InvalidParameters = append(out.InvalidParameters, name)
			continue
		}

		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	return out, nil
}

func (f *fakeSSM) DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error) {
	names := f.localOrder
	if aws.ToBool(params.Shared) {
		names = f.sharedOrder
	}

	out := &ssm.DescribeParametersOutput{}
	for _, name := range names {
		out.Parameters = append(out.Parameters, ssmtypes.ParameterMetadata{Name: aws.String(name)})
	}

	return out, nil
}

type fakeCognito struct {
	calls int
}

func (f *fakeCognito) InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.calls++

	if params.AuthParameters["USERNAME"] != "monitor" || params.AuthParameters["PASSWORD"] != "hunter2" {
		return nil, errors.New("NotAuthorizedException: Incorrect username or password")
	}

	return &cip.InitiateAuthOutput{
		AuthenticationResult: &types.AuthenticationResultType{
			AccessToken: aws.String("tok123"),
		},
	}, nil
}

type putObject struct {
	bucket   string
	key      string
	body     string
	metadata map[string]string
}

type fakeS3 struct {
	err  error
	puts []putObject
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.puts = append(f.puts, putObject{
		bucket:   aws.ToString(params.Bucket),
		key:      aws.ToString(params.Key),
		body:     string(body),
		metadata: params.Metadata,
	})

	return &s3.PutObjectOutput{}, nil
}

type fixture struct {
	ssm     *fakeSSM
	cognito *fakeCognito
	s3      *fakeS3
	server  *httptest.Server
	down    string

	reporter *Reporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sm := http.NewServeMux()
	sm.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := httptest.NewServer(sm)
	t.Cleanup(server.Close)

	closed := httptest.NewServer(http.NotFoundHandler())
	down := closed.URL
	closed.Close()

	f := &fixture{
		ssm:     newFakeSSM(),
		cognito: &fakeCognito{},
		s3:      &fakeS3{},
		server:  server,
		down:    down,
	}

	tr := &http.Transport{}
	t.Cleanup(tr.CloseIdleConnections)

	c := DefaultConfig("sips", "dev")

	resolver := parameters.NewResolver(f.ssm)

	f.reporter = &Reporter{
		Config:    c,
		Resolver:  resolver,
		Scanner:   &parameters.Scanner{Client: f.ssm},
		Exchanger: cognito.NewExchanger(f.cognito),
		Prober: &probe.Prober{
			Client:      &http.Client{Transport: tr},
			Concurrency: 2,
			Now:         func() time.Time { return testTime },
		},
		Publisher: &report.Publisher{Client: f.s3},
		Now:       func() time.Time { return testTime },
	}

	return f
}

func descriptor(name, url string) string {
	b, _ := json.Marshal(map[string]string{
		"componentName":  name,
		"healthCheckUrl": url,
	})
	return string(b)
}

func TestRun(t *testing.T) {
	f := newFixture(t)

	f.ssm.addShared("/unity/shared-services/component/a", descriptor("A", f.server.URL+"/health"))
	f.ssm.addLocal("/unity/sips/dev/component/b", descriptor("B", f.down+"/health"))

	result, err := f.reporter.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Report.Services, 2)

	a := result.Report.Services[0]
	assert.Equal(t, "A", a.ComponentName)
	assert.Equal(t, "/unity/shared-services/component/a", a.SSMKey)
	assert.Equal(t, report.StatusHealthy, a.HealthChecks[0].Status)
	assert.Equal(t, "200", a.HealthChecks[0].HTTPResponseCode)

	b := result.Report.Services[1]
	assert.Equal(t, "B", b.ComponentName)
	assert.Equal(t, report.StatusUnhealthy, b.HealthChecks[0].Status)
	assert.Equal(t, report.NotAvailable, b.HealthChecks[0].HTTPResponseCode)

	assert.Equal(t, 1, f.cognito.calls)

	assert.True(t, result.Publish.Published)
	assert.Equal(t, "JSON uploaded successfully.", result.Publish.Message)
	assert.Equal(t, "unity-sips-dev-bucket", result.Bucket)
	assert.Equal(t, "health_check_2024-05-01_12-30-05.json", result.ObjectKey)
	assert.NotEmpty(t, result.InvocationID)

	require.Len(t, f.s3.puts, 2)
	assert.Equal(t, "health_check_2024-05-01_12-30-05.json", f.s3.puts[0].key)
	assert.Equal(t, report.LatestKey, f.s3.puts[1].key)

	expected, err := result.Report.JSON()
	require.NoError(t, err)

	for _, put := range f.s3.puts {
		assert.Equal(t, "unity-sips-dev-bucket", put.bucket)
		assert.Equal(t, string(expected), put.body)
		assert.Equal(t, result.InvocationID, put.metadata["invocation-id"])
	}
}

func TestRunSkipsUnresolved(t *testing.T) {
	f := newFixture(t)

	f.ssm.addLocal("/unity/sips/dev/component/b", descriptor("B", f.server.URL+"/health"))
	// Discovered but can't be read
	f.ssm.localOrder = append(f.ssm.localOrder, "/unity/sips/dev/component/secret")

	result, err := f.reporter.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Report.Services, 1)
	assert.Equal(t, "B", result.Report.Services[0].ComponentName)
}

func TestRunNoServices(t *testing.T) {
	f := newFixture(t)

	result, err := f.reporter.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Report.Services)
	assert.True(t, result.Publish.Published)

	require.Len(t, f.s3.puts, 2)
	assert.JSONEq(t, `{"services": []}`, f.s3.puts[0].body)
}

func TestRunWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	f.ssm.account = ""
	f.ssm.addLocal("/unity/sips/dev/component/b", descriptor("B", f.server.URL+"/health"))

	result, err := f.reporter.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, cognito.ErrMissingCredential)
	assert.Nil(t, result)
	assert.Equal(t, 0, f.cognito.calls)
	assert.Empty(t, f.s3.puts)
}

func TestRunLoginFailure(t *testing.T) {
	f := newFixture(t)
	f.ssm.shared[cognito.DefaultPasswordParameter] = "wrong"

	_, err := f.reporter.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotAuthorizedException")
	assert.Equal(t, 1, f.cognito.calls)
	assert.Empty(t, f.s3.puts)
}

func TestRunPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.s3.err = errors.New("AccessDenied: Access Denied")
	f.ssm.addLocal("/unity/sips/dev/component/b", descriptor("B", f.server.URL+"/health"))

	result, err := f.reporter.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Publish.Published)
	assert.Equal(t, "AccessDenied: Access Denied", result.Publish.Message)
	require.Len(t, result.Report.Services, 1)
}

func TestHandle(t *testing.T) {
	f := newFixture(t)
	f.ssm.addLocal("/unity/sips/dev/component/b", descriptor("B", f.server.URL+"/health"))

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		AwsRequestID: "c6af9ac6-7b61-11e6-9a41-93e8deadbeef",
	})

	res, err := f.reporter.Handle(ctx, events.CloudWatchEvent{
		ID:         "cdc73f9d-aea9-11e3-9d5a-835b769c0d9c",
		DetailType: "Scheduled Event",
		Source:     "aws.events",
		Time:       testTime,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, res.Headers)

	var body report.Report
	require.NoError(t, json.Unmarshal([]byte(res.Body), &body))
	require.Len(t, body.Services, 1)
	assert.Equal(t, "B", body.Services[0].ComponentName)
	assert.Contains(t, res.Body, "\n    \"services\"")

	require.Len(t, f.s3.puts, 2)
	assert.Equal(t, "c6af9ac6-7b61-11e6-9a41-93e8deadbeef", f.s3.puts[0].metadata["invocation-id"])

	envelope, err := json.Marshal(res)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(envelope, &fields))
	assert.Len(t, fields, 3)
	assert.EqualValues(t, 200, fields["statusCode"])
	assert.Contains(t, fields, "body")
	assert.Contains(t, fields, "headers")
}

func TestHandlePublishFailure(t *testing.T) {
	f := newFixture(t)
	f.s3.err = errors.New("NoSuchBucket: The specified bucket does not exist")

	res, err := f.reporter.Handle(context.Background(), events.CloudWatchEvent{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHandleError(t *testing.T) {
	f := newFixture(t)
	f.ssm.account = ""

	_, err := f.reporter.Handle(context.Background(), events.CloudWatchEvent{})
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	entries := Merge(
		Source{
			Keys: []string{"a", "b", "missing"},
			Values: parameters.Values{
				"a": "shared a",
				"b": "shared b",
			},
		},
		Source{
			Keys: []string{"c", "a", "d"},
			Values: parameters.Values{
				"a": "local a",
				"c": "local c",
			},
		},
	)

	assert.Equal(t, []probe.Entry{
		{Key: "a", Value: "local a"},
		{Key: "b", Value: "shared b"},
		{Key: "c", Value: "local c"},
	}, entries)

	assert.NotNil(t, Merge())
	assert.Empty(t, Merge(Source{}))
}

func TestInvocationID(t *testing.T) {
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		AwsRequestID: "request-1",
	})
	assert.Equal(t, "request-1", InvocationID(ctx))

	first := InvocationID(context.Background())
	second := InvocationID(context.Background())
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}
