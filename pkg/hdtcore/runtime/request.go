package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/httpclient"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

// groundRequest substitutes every remaining $var placeholder in api's
// request template against env and marshals the body.
func groundRequest(env *variable.Environment, api *expand.ConcreteAPI) (*httpclient.Request, error) {
	path, err := env.Substitute(api.Request.Path)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}

	headers := make(map[string]string, len(api.Request.Headers))
	for k, v := range api.Request.Headers {
		sv, err := env.Substitute(v)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		headers[k] = sv
	}

	groundedBody, err := groundAny(env, api.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	body, err := httpclient.MarshalJSONBody(groundedBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}

	return &httpclient.Request{
		Method:  api.Request.Method,
		URL:     path,
		Headers: headers,
		Body:    body,
		Auth:    resolveAuth(env, api.Request.Auth),
	}, nil
}

func groundAny(env *variable.Environment, v any) (any, error) {
	switch t := v.(type) {
	case string:
		return env.Substitute(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			groundedKey, err := env.Substitute(k)
			if err != nil {
				return nil, err
			}
			groundedVal, err := groundAny(env, val)
			if err != nil {
				return nil, err
			}
			out[groundedKey] = groundedVal
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			groundedVal, err := groundAny(env, val)
			if err != nil {
				return nil, err
			}
			out[i] = groundedVal
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveAuth looks up the named auth scheme's concrete credentials from
// the environment. Scheme-specific variable names are fixed conventions
// (authBasicUser/authBasicPass, authBearerToken, authOAuth2*) set by the
// loader's host/global manifest.
func resolveAuth(env *variable.Environment, scheme string) *httpclient.Auth {
	if scheme == "" {
		return nil
	}
	get := func(name string) string {
		v, _ := env.Get(name)
		return v
	}
	switch scheme {
	case "basic":
		return &httpclient.Auth{Scheme: "basic", BasicUsername: get("authBasicUser"), BasicPassword: get("authBasicPass")}
	case "bearer":
		return &httpclient.Auth{Scheme: "bearer", BearerToken: get("authBearerToken")}
	case "oauth2_client_credentials":
		return &httpclient.Auth{
			Scheme:             scheme,
			OAuth2TokenURL:     get("authOAuth2TokenURL"),
			OAuth2ClientID:     get("authOAuth2ClientID"),
			OAuth2ClientSecret: get("authOAuth2ClientSecret"),
		}
	case "oauth2_password":
		return &httpclient.Auth{
			Scheme:             scheme,
			OAuth2TokenURL:     get("authOAuth2TokenURL"),
			OAuth2ClientID:     get("authOAuth2ClientID"),
			OAuth2ClientSecret: get("authOAuth2ClientSecret"),
			OAuth2Username:     get("authOAuth2Username"),
			OAuth2Password:     get("authOAuth2Password"),
		}
	default:
		return &httpclient.Auth{Scheme: scheme}
	}
}

func parseJSON(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
