package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultTokenURL = "https://auth.globus.org/v2/oauth2/token"

// AppTokenSource fetches client-credentials access tokens for the
// provider's own identity (used for Deriva registry calls). Tokens are
// cached until shortly before expiry.
type AppTokenSource struct {
	client       *resty.Client
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	logger       *zap.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppTokenSource builds a token source for one dependent scope.
func NewAppTokenSource(clientID, clientSecret, scope string, logger *zap.Logger) *AppTokenSource {
	return &AppTokenSource{
		client:       resty.New().SetTimeout(10 * time.Second),
		tokenURL:     defaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		logger:       logger.With(zap.String("component", "app-token")),
	}
}

// SetTokenURL overrides the token endpoint, for tests.
func (s *AppTokenSource) SetTokenURL(url string) { s.tokenURL = url }

// Token returns a valid app token, refreshing it when stale.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.clientID, s.clientSecret).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
			"scope":      s.scope,
		}).
		SetResult(&result).
		Post(s.tokenURL)
	if err != nil {
		return "", fmt.Errorf("app token request: %w", err)
	}
	if resp.IsError() || result.AccessToken == "" {
		return "", fmt.Errorf("app token request returned %d", resp.StatusCode())
	}

	s.token = result.AccessToken
	// Refresh a minute early rather than racing expiry.
	s.expires = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - time.Minute)
	s.logger.Debug("retrieved dependent token", zap.String("scope", s.scope))
	return s.token, nil
}
