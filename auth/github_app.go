// Package auth creates GitHub App installation access tokens used to query
// the GitHub API on behalf of an organisation.
package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

const DefaultAPIURL = "https://api.github.com"

// tokens are refreshed once they expire within this window
const expiryDelta = 10 * time.Minute

type GithubAppTokenReqPermissions struct {
	Repositories []string          `json:"repositories,omitempty"`
	Permissions  map[string]string `json:"permissions"`
}

type GithubAppToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GithubApp holds the details required to authenticate as a GitHub App installation
type GithubApp struct {
	// AppID is the application id or the client ID of the Github app
	AppID string
	// InstallationID is the installation id of the app (in the organisation)
	InstallationID string
	// PrivateKeyPath is the path to the github app private key
	PrivateKeyPath string
	// APIURL is the REST API root, defaults to DefaultAPIURL
	APIURL string
	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

func (a GithubApp) apiURL() string {
	if a.APIURL == "" {
		return DefaultAPIURL
	}
	return strings.TrimRight(a.APIURL, "/")
}

func (a GithubApp) httpClient() *http.Client {
	if a.HTTPClient == nil {
		return http.DefaultClient
	}
	return a.HTTPClient
}

// signedJWT creates the short lived JWT the app uses to request installation tokens
func (a GithubApp) signedJWT(now time.Time) (string, error) {
	privatePEMData, err := os.ReadFile(a.PrivateKeyPath)
	if err != nil {
		return "", err
	}

	privateKey, err := parsePrivateKey(privatePEMData)
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: privateKey}, nil)
	if err != nil {
		return "", err
	}

	cl := jwt.Claims{
		// GitHub App's ID or client ID
		Issuer: a.AppID,
		// issued at time, 60 seconds in the past to allow for clock drift
		IssuedAt: jwt.NewNumericDate(now.Add(-60 * time.Second)),
		// JWT expiration time (10 minute maximum)
		Expiry: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}

	return jwt.Signed(signer).Claims(cl).Serialize()
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not an RSA key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// InstallationToken requests a new installation access token with given permissions
func (a GithubApp) InstallationToken(ctx context.Context, reqPerms GithubAppTokenReqPermissions) (*GithubAppToken, error) {
	jwtToken, err := a.signedJWT(time.Now())
	if err != nil {
		return nil, fmt.Errorf("unable to create app jwt err:%w", err)
	}

	reqBody, err := json.Marshal(reqPerms)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", a.apiURL(), a.InstallationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		errMessage, err := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub app token response status %d, body:%q  err:%w", resp.StatusCode, errMessage, err)
	}

	var tokenResponse GithubAppToken
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, err
	}

	return &tokenResponse, nil
}

// AppTokenSource is an oauth2.TokenSource backed by GitHub App installation
// tokens. Tokens are cached until they are about to expire.
// An AppTokenSource is safe for concurrent use by multiple goroutines.
type AppTokenSource struct {
	ctx   context.Context
	app   GithubApp
	perms GithubAppTokenReqPermissions

	mu    sync.Mutex
	token *GithubAppToken
}

// NewAppTokenSource returns token source which requests read only access to
// repository metadata of the installation.
func NewAppTokenSource(ctx context.Context, app GithubApp) *AppTokenSource {
	return &AppTokenSource{
		ctx: ctx,
		app: app,
		perms: GithubAppTokenReqPermissions{
			Permissions: map[string]string{"metadata": "read", "contents": "read"},
		},
	}
}

// Token implements oauth2.TokenSource
func (s *AppTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// return token if current token is valid for next 10 min
	if s.token == nil || !s.token.ExpiresAt.After(time.Now().UTC().Add(expiryDelta)) {
		token, err := s.app.InstallationToken(s.ctx, s.perms)
		if err != nil {
			return nil, err
		}
		s.token = token
	}

	return &oauth2.Token{
		AccessToken: s.token.Token,
		TokenType:   "Bearer",
		Expiry:      s.token.ExpiresAt,
	}, nil
}
