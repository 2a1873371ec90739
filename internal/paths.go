package internal

import (
	"fmt"
	"strings"
)

// Root of every parameter this deployment owns
const ParameterRoot = "/unity"

// SharedServicesPath is the namespace that is shared into every venue account
const SharedServicesPath = ParameterRoot + "/shared-services"

// AccountParameter holds the ID of the account that owns the shared services
const AccountParameter = SharedServicesPath + "/aws/account"

// SharedComponentPrefix is the prefix of the health-check parameters
// published by the shared services account
const SharedComponentPrefix = SharedServicesPath + "/component/"

// ComponentPrefix returns the prefix under which a deployment registers the
// health checks of its components. For example project "sips" and venue
// "dev" give /unity/sips/dev/component/
func ComponentPrefix(project, venue string) string {
	return fmt.Sprintf("%v/%v/%v/component/", ParameterRoot, project, venue)
}

// BucketName returns the bucket that health reports for a deployment are
// written to
func BucketName(project, venue string) string {
	return strings.ToLower(fmt.Sprintf("unity-%v-%v-bucket", project, venue))
}
