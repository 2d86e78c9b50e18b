// Package httpclient dispatches Concrete API requests over fasthttp,
// applying the request template's auth scheme and an optional dispatch
// throttle.
package httpclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// Request is a fully-grounded HTTP request: every $var placeholder has
// already been substituted by the runtime.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	Auth *Auth
}

// Auth describes how to authenticate a single request. Only the fields
// belonging to the scheme selected by Scheme are meaningful.
type Auth struct {
	Scheme string // "basic", "bearer", "oauth2_client_credentials", "oauth2_password"

	BearerToken string

	BasicUsername string
	BasicPassword string

	OAuth2TokenURL     string
	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2Scopes       []string
	OAuth2Username     string
	OAuth2Password     string
}

// Response is the raw result of dispatching a Request.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Client dispatches requests over a shared fasthttp.Client, caching OAuth2
// tokens per credential set and optionally rate-limiting dispatch. One
// cookie jar is shared across every request for the duration of a run; it
// and the token cache are the only mutable state and both are
// mutex-guarded, since sibling subtrees dispatch concurrently.
type Client struct {
	hc *fasthttp.Client

	limiter *rate.Limiter

	tokenMu sync.Mutex
	tokens  map[string]*oauth2.Token

	jarMu sync.Mutex
	jar   map[string]map[string]string // host -> cookie name -> value
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outbound request dispatch to the given rate,
// surfaced by the run command's optional `-rate` flag.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		}
	}
}

// New creates a Client ready for concurrent use by sibling subtree runs.
func New(opts ...Option) *Client {
	c := &Client{
		hc:     &fasthttp.Client{Name: "hapi-doc-test"},
		tokens: make(map[string]*oauth2.Token),
		jar:    make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do dispatches req, applying its Auth scheme and waiting on the optional
// rate limiter first.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpclient: rate limiter: %w", err)
		}
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	if req.Auth != nil {
		if err := c.applyAuth(ctx, req.Auth, headers); err != nil {
			return nil, err
		}
	}

	fr := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(fr)
	defer fasthttp.ReleaseResponse(fresp)

	fr.SetRequestURI(req.URL)
	fr.Header.SetMethod(req.Method)
	for k, v := range headers {
		fr.Header.Set(k, v)
	}
	host := string(fr.URI().Host())
	for name, value := range c.cookiesFor(host) {
		fr.Header.SetCookie(name, value)
	}
	if req.Body != nil {
		fr.SetBody(req.Body)
		if fr.Header.ContentType() == nil || len(fr.Header.ContentType()) == 0 {
			fr.Header.SetContentType("application/json")
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.hc.DoDeadline(fr, fresp, deadline); err != nil {
			return nil, fmt.Errorf("httpclient: request failed: %w", err)
		}
	} else {
		if err := c.hc.Do(fr, fresp); err != nil {
			return nil, fmt.Errorf("httpclient: request failed: %w", err)
		}
	}

	respHeaders := make(map[string]string)
	fresp.Header.VisitAll(func(k, v []byte) {
		respHeaders[string(k)] = string(v)
	})
	c.storeCookies(host, fresp)

	body := make([]byte, len(fresp.Body()))
	copy(body, fresp.Body())

	return &Response{
		Status:  fresp.StatusCode(),
		Headers: respHeaders,
		Body:    body,
	}, nil
}

func (c *Client) cookiesFor(host string) map[string]string {
	c.jarMu.Lock()
	defer c.jarMu.Unlock()
	stored := c.jar[host]
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out
}

func (c *Client) storeCookies(host string, fresp *fasthttp.Response) {
	c.jarMu.Lock()
	defer c.jarMu.Unlock()
	fresp.Header.VisitAllCookie(func(key, value []byte) {
		ck := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(ck)
		if err := ck.ParseBytes(value); err != nil {
			return
		}
		if c.jar[host] == nil {
			c.jar[host] = make(map[string]string)
		}
		c.jar[host][string(ck.Key())] = string(ck.Value())
	})
}

func (c *Client) applyAuth(ctx context.Context, auth *Auth, headers map[string]string) error {
	switch auth.Scheme {
	case "", "none":
		return nil
	case "bearer":
		headers["Authorization"] = "Bearer " + auth.BearerToken
		return nil
	case "basic":
		raw := auth.BasicUsername + ":" + auth.BasicPassword
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
		return nil
	case "oauth2_client_credentials":
		tok, err := c.oauth2ClientCredentialsToken(ctx, auth)
		if err != nil {
			return err
		}
		headers["Authorization"] = tok.TokenType + " " + tok.AccessToken
		return nil
	case "oauth2_password":
		tok, err := c.oauth2PasswordToken(ctx, auth)
		if err != nil {
			return err
		}
		headers["Authorization"] = tok.TokenType + " " + tok.AccessToken
		return nil
	default:
		return fmt.Errorf("httpclient: unknown auth scheme %q", auth.Scheme)
	}
}

func (c *Client) oauth2ClientCredentialsToken(ctx context.Context, auth *Auth) (*oauth2.Token, error) {
	key := "cc:" + auth.OAuth2TokenURL + ":" + auth.OAuth2ClientID
	if tok := c.cachedToken(key); tok != nil {
		return tok, nil
	}
	cfg := clientcredentials.Config{
		ClientID:     auth.OAuth2ClientID,
		ClientSecret: auth.OAuth2ClientSecret,
		TokenURL:     auth.OAuth2TokenURL,
		Scopes:       auth.OAuth2Scopes,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("httpclient: oauth2 client_credentials: %w", err)
	}
	c.cacheToken(key, tok)
	return tok, nil
}

func (c *Client) oauth2PasswordToken(ctx context.Context, auth *Auth) (*oauth2.Token, error) {
	key := "pw:" + auth.OAuth2TokenURL + ":" + auth.OAuth2ClientID + ":" + auth.OAuth2Username
	if tok := c.cachedToken(key); tok != nil {
		return tok, nil
	}
	cfg := oauth2.Config{
		ClientID:     auth.OAuth2ClientID,
		ClientSecret: auth.OAuth2ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: auth.OAuth2TokenURL},
		Scopes:       auth.OAuth2Scopes,
	}
	tok, err := cfg.PasswordCredentialsToken(ctx, auth.OAuth2Username, auth.OAuth2Password)
	if err != nil {
		return nil, fmt.Errorf("httpclient: oauth2 password: %w", err)
	}
	c.cacheToken(key, tok)
	return tok, nil
}

func (c *Client) cachedToken(key string) *oauth2.Token {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	tok, ok := c.tokens[key]
	if !ok || !tok.Valid() {
		return nil
	}
	return tok
}

func (c *Client) cacheToken(key string, tok *oauth2.Token) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.tokens[key] = tok
}

// MarshalJSONBody is a convenience used by the runtime to turn a grounded
// request body (map/slice/scalar) into wire bytes.
func MarshalJSONBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

// DefaultTimeout is the per-request bound the runtime applies (its
// Runtime.Timeout default) when the caller's context has no deadline.
// Client.Do itself applies no timeout beyond the context's deadline.
const DefaultTimeout = 30 * time.Second
