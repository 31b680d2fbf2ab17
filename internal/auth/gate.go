package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	// UserAgent identifies the installer to the authentication endpoint
	UserAgent = "zinstall (authentication)"

	// Request headers carrying the credentials
	HeaderUsername = "X-USERNAME"
	HeaderToken    = "X-TOKEN"

	defaultTimeout = 30 * time.Second
	maxTokenSize   = 64 << 10
)

// Gate performs authentication attempts.
type Gate struct {
	client    *http.Client
	userAgent string
	clock     Clock
	logger    logging.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithHTTPClient sets the HTTP client used to call the endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gate) {
		g.client = client
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		g.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Gate) {
		g.logger = logging.OrNop(logger)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(g *Gate) {
		g.userAgent = userAgent
	}
}

// NewGate creates a Gate.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: UserAgent,
		clock:     RealClock{},
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate runs one attempt against policy. On success the credentials
// used and the raw token are committed to store and the verified claims are
// returned. A nil policy returns ErrNoPolicy without any network call.
func (g *Gate) Authenticate(ctx context.Context, policy *config.AuthenticationConfig, supplied Credentials, store CredentialStore) (*Claims, error) {
	if policy == nil {
		return nil, ErrNoPolicy
	}

	creds, err := Resolve(supplied, store.Credentials())
	if err != nil {
		g.logger.Info("no supplied or stored credentials to validate")
		return nil, &Error{Stage: StageCredentialsResolved, Err: err}
	}
	g.logger.Debug("credentials resolved", "username", creds.Username, "supplied", supplied.Valid())

	alg := policy.SignatureAlgorithm()
	key, err := decodeKey(policy.PubKeyBase64, alg)
	if err != nil {
		g.logger.Error("configured public key did not decode", "error", err)
		return nil, &Error{Stage: StageKeyDecoded, Err: err}
	}

	raw, err := g.fetchToken(ctx, policy.AuthURL, creds)
	if err != nil {
		g.logger.Error("authentication endpoint call failed", "url", policy.AuthURL, "error", err)
		return nil, &Error{Stage: StageRemoteVerified, Err: err}
	}

	claims, err := g.validate(raw, alg, key, policy.Validation)
	if err != nil {
		g.logger.Error("token validation failed", "error", err)
		return nil, &Error{Stage: StageTokenValidated, Err: err}
	}

	if err := store.CommitAuthentication(creds, raw); err != nil {
		return nil, &Error{Stage: StageCommitted, Err: err}
	}

	g.logger.Info("successfully verified username and token", "subject", claims.Subject)
	return claims, nil
}

// fetchToken posts the credentials and returns the token body.
func (g *Gate) fetchToken(ctx context.Context, url string, creds Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set(HeaderUsername, creds.Username)
	req.Header.Set(HeaderToken, creds.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call authentication endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RemoteStatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// validate parses raw, checks the signature when key is set, and applies
// the expiry, issuer and audience rules.
func (g *Gate) validate(raw, alg string, key interface{}, rule *config.ValidationRule) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(alg)})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims := &Claims{}
	if key == nil {
		g.logger.Warn("no public key configured, accepting token without signature verification")
		err = tok.UnsafeClaimsWithoutVerification(claims)
	} else {
		err = tok.Claims(key, claims)
	}
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	if claims.Expiry == nil {
		return nil, errors.New("token carries no expiry")
	}

	expected := jwt.Expected{Time: g.clock.Now()}
	if rule != nil {
		expected.Issuer = rule.Issuer
		if rule.Audience != "" {
			expected.AnyAudience = jwt.Audience{rule.Audience}
		}
	}
	registered := claims.registered()
	if err := registered.ValidateWithLeeway(expected, jwt.DefaultLeeway); err != nil {
		return nil, fmt.Errorf("validate claims: %w", err)
	}

	claims.normalize()
	return claims, nil
}
