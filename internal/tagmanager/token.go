package tagmanager

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var ErrMissingCredentials = errors.New("missing oauth credentials")

// Scopes are the Tag Manager scopes the toolkit needs for export and import.
var Scopes = []string{
	"https://www.googleapis.com/auth/tagmanager.readonly",
	"https://www.googleapis.com/auth/tagmanager.edit.containers",
	"https://www.googleapis.com/auth/tagmanager.edit.containerversions",
	"https://www.googleapis.com/auth/tagmanager.delete.containers",
}

// TokenSource hands out bearer tokens. Refresh must mint a new token even when
// the cached one still looks valid; the client calls it after a 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

type RefreshTokenSourceOptions struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL overrides the Google token endpoint.
	TokenURL   string
	HTTPClient *http.Client
}

// RefreshTokenSource exchanges a long-lived refresh token for access tokens.
type RefreshTokenSource struct {
	config       *oauth2.Config
	httpClient   *http.Client
	mu           sync.Mutex
	refreshToken string
	current      *oauth2.Token
}

func NewRefreshTokenSource(opts RefreshTokenSourceOptions) (*RefreshTokenSource, error) {
	clientID := strings.TrimSpace(opts.ClientID)
	clientSecret := strings.TrimSpace(opts.ClientSecret)
	refreshToken := strings.TrimSpace(opts.RefreshToken)
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, ErrMissingCredentials
	}
	endpoint := endpoints.Google
	if tokenURL := strings.TrimSpace(opts.TokenURL); tokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return &RefreshTokenSource{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		httpClient:   opts.HTTPClient,
		refreshToken: refreshToken,
	}, nil
}

func (s *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current.Valid() {
		return current.AccessToken, nil
	}
	return s.Refresh(ctx)
}

func (s *RefreshTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	token, err := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		return "", err
	}
	if token.RefreshToken != "" {
		s.refreshToken = token.RefreshToken
	}
	s.current = token
	return token.AccessToken, nil
}

// StaticTokenSource always returns the same access token.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrMissingCredentials
	}
	return string(s), nil
}

func (s StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}
