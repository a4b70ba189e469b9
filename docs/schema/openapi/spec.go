// Package openapi embeds the donationcore HTTP API description for runtime
// distribution.
package openapi

import _ "embed"

// APISpec contains the OpenAPI document served at /openapi.yaml.
//
//go:embed donationcore.yaml
var APISpec []byte

// Spec returns a defensive copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), APISpec...)
}
