package oauth

import (
	"fmt"
	"regexp"
	"strings"
)

// authParamPattern matches one key="value" pair in a challenge's parameter
// list.
var authParamPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value into an
// AuthChallenge. Bearer challenges carry the OAuth parameters funnel cares
// about (realm, scope, resource_metadata, error, error_description); other
// schemes parse but report false from IsOAuthChallenge.
//
//	Bearer realm="https://auth.example.com", scope="openid profile"
//	Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"
//	Bearer error="invalid_token", error_description="The access token expired"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	scheme, rest, _ := strings.Cut(header, " ")
	params := parseAuthParams(rest)

	challenge := &AuthChallenge{
		Scheme:              scheme,
		Realm:               params["realm"],
		ResourceMetadataURL: params["resource_metadata"],
		Scope:               params["scope"],
		Error:               params["error"],
		ErrorDescription:    params["error_description"],
	}

	// A URL-shaped realm doubles as the issuer.
	if strings.HasPrefix(challenge.Realm, "http://") || strings.HasPrefix(challenge.Realm, "https://") {
		challenge.Issuer = challenge.Realm
	}

	return challenge, nil
}

// parseAuthParams extracts the quoted key="value" pairs from the parameter
// portion of a challenge. Keys are lowercased; unquoted parameters are
// ignored.
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, match := range authParamPattern.FindAllStringSubmatch(paramStr, -1) {
		params[strings.ToLower(match[1])] = match[2]
	}
	return params
}
