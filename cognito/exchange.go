package cognito

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/overmindtech/health-reporter/internal"
	"github.com/overmindtech/health-reporter/parameters"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Parameters that hold the monitoring user's credentials
const (
	DefaultUsernameParameter = internal.SharedServicesPath + "/cognito/monitoring-username"
	DefaultPasswordParameter = internal.SharedServicesPath + "/cognito/monitoring-password"
	DefaultClientIDParameter = internal.SharedServicesPath + "/dapa/client-id"
)

var (
	// ErrMissingCredential means that one of the parameters needed to log in
	// was not resolved
	ErrMissingCredential = errors.New("missing credential")
	// ErrNoAccessToken means that Cognito accepted the request but didn't
	// issue an access token, usually because a challenge is required
	ErrNoAccessToken = errors.New("no access token in authentication result")
)

// AuthClient is the part of the Cognito user pool API that is needed to log in
type AuthClient interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
}

// Exchanger swaps the monitoring user's credentials for an access token
type Exchanger struct {
	Client AuthClient

	// Names of the parameters that hold each credential
	UsernameParameter string
	PasswordParameter string
	ClientIDParameter string
}

// NewExchanger returns an exchanger that reads the default credential
// parameters
func NewExchanger(client AuthClient) *Exchanger {
	return &Exchanger{
		Client:            client,
		UsernameParameter: DefaultUsernameParameter,
		PasswordParameter: DefaultPasswordParameter,
		ClientIDParameter: DefaultClientIDParameter,
	}
}

// CredentialParameters returns the names of the parameters that need to be
// resolved before calling Token
func (e *Exchanger) CredentialParameters() []string {
	return []string{
		e.UsernameParameter,
		e.PasswordParameter,
		e.ClientIDParameter,
	}
}

// Token logs in with USER_PASSWORD_AUTH and returns the access token. The
// credentials are keyed by parameter name, as returned by the resolver. This
// makes exactly one request and doesn't cache the result
func (e *Exchanger) Token(ctx context.Context, creds parameters.Values) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "cognito.Token")
	defer span.End()

	for _, name := range e.CredentialParameters() {
		if _, ok := creds[name]; !ok {
			err := fmt.Errorf("%w: %v", ErrMissingCredential, name)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	out, err := e.Client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		AuthParameters: map[string]string{
			"USERNAME": creds[e.UsernameParameter],
			"PASSWORD": creds[e.PasswordParameter],
		},
		ClientId: aws.String(creds[e.ClientIDParameter]),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.String("health.cognito.errorCode", apiErr.ErrorCode()))
		}
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("error authenticating monitoring user: %w", err)
	}

	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.AccessToken) == "" {
		if out.ChallengeName != "" {
			span.SetAttributes(attribute.String("health.cognito.challenge", string(out.ChallengeName)))
			return "", fmt.Errorf("%w: challenge %v required", ErrNoAccessToken, out.ChallengeName)
		}
		return "", ErrNoAccessToken
	}

	log.WithContext(ctx).WithField("expiresIn", out.AuthenticationResult.ExpiresIn).Debug("Obtained access token")

	return *out.AuthenticationResult.AccessToken, nil
}
