package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

// authChallengeError marks a transport error as a 401/OAuth challenge so
// Session.Connect/classify can transition to auth_required instead of
// error.
type authChallengeError struct{ cause error }

func (e *authChallengeError) Error() string { return fmt.Sprintf("authorization required: %v", e.cause) }
func (e *authChallengeError) Unwrap() error { return e.cause }

func isAuthChallenge(err error) bool {
	_, ok := err.(*authChallengeError)
	return ok
}

// authState holds the credentials/tokens for one upstream session's auth
// policy and knows how to apply them to an outgoing request, and (for
// OAuth) how to refresh an expired access token.
type authState struct {
	mu     sync.Mutex
	policy vmcp.AuthPolicy

	// OAuth2 state.
	token       *oauth2.Token
	pkce        *pkceParams
	state       string
	oauthConfig *oauth2.Config
}

func newAuthState(policy vmcp.AuthPolicy) *authState {
	as := &authState{policy: policy}
	if policy.Kind == vmcp.AuthOAuth2 && policy.OAuth != nil {
		as.oauthConfig = &oauth2.Config{
			ClientID:     policy.OAuth.ClientID,
			ClientSecret: policy.OAuth.ClientSecret,
			RedirectURL:  policy.OAuth.RedirectURL,
			Scopes:       policy.OAuth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  policy.OAuth.AuthURL,
				TokenURL: policy.OAuth.TokenURL,
			},
		}
	}
	return as
}

// apply sets the headers/credentials required by the configured auth
// policy on an outgoing HTTP request.
func (a *authState) apply(req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.policy.Kind {
	case vmcp.AuthNone, "":
		return nil
	case vmcp.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.policy.Token)
	case vmcp.AuthAPIKey:
		name := a.policy.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, a.policy.Token)
	case vmcp.AuthBasic:
		req.SetBasicAuth(a.policy.Username, a.policy.Password)
	case vmcp.AuthCustomHeaders:
		for k, v := range a.policy.Headers {
			req.Header.Set(k, v)
		}
	case vmcp.AuthOAuth2:
		if a.token == nil || !a.token.Valid() {
			return &authChallengeError{cause: fmt.Errorf("no valid OAuth access token for upstream")}
		}
		a.token.SetAuthHeader(req)
	}
	return nil
}

// refresh attempts one OAuth token refresh using the stored refresh token.
// Returns an authChallengeError if no refresh is possible.
func (a *authState) refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.oauthConfig == nil || a.token == nil || a.token.RefreshToken == "" {
		return &authChallengeError{cause: fmt.Errorf("no refresh token available")}
	}

	src := a.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: a.token.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		return &authChallengeError{cause: err}
	}
	a.token = newToken
	return nil
}

// setToken stores a freshly obtained access/refresh token pair, e.g. after
// an authorization-code exchange completed out of band by the REST control
// surface.
func (a *authState) setToken(token *oauth2.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

// clear wipes stored OAuth state (spec §4.1: "Clearing auth wipes stored
// tokens and forces disconnected").
func (a *authState) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = nil
	a.pkce = nil
	a.state = ""
}

// authorizationURL builds the authorization-code-with-PKCE URL the caller
// must visit to complete an OAuth challenge, generating fresh PKCE
// parameters and CSRF state as a side effect.
func (a *authState) authorizationURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.oauthConfig == nil {
		return ""
	}

	pkce, err := generatePKCEParams()
	if err != nil {
		return ""
	}
	state, err := generateState()
	if err != nil {
		return ""
	}
	a.pkce = pkce
	a.state = state

	return a.oauthConfig.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// exchangeCode completes the authorization-code-with-PKCE flow given the
// code and state returned to the redirect URL.
func (a *authState) exchangeCode(ctx context.Context, code, state string) error {
	a.mu.Lock()
	cfg := a.oauthConfig
	pkce := a.pkce
	expectedState := a.state
	a.mu.Unlock()

	if cfg == nil || pkce == nil {
		return fmt.Errorf("no pending authorization request")
	}
	if state != expectedState {
		return fmt.Errorf("state mismatch: possible CSRF")
	}

	token, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", pkce.CodeVerifier))
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	a.setToken(token)
	return nil
}

// pkceParams holds a PKCE code verifier/challenge pair (RFC 7636).
type pkceParams struct {
	CodeVerifier  string
	CodeChallenge string
}

func generatePKCEParams() (*pkceParams, error) {
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	codeVerifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(codeVerifier))
	codeChallenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &pkceParams{CodeVerifier: codeVerifier, CodeChallenge: codeChallenge}, nil
}

func generateState() (string, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}
