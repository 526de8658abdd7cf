package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
)

const defaultIntrospectURL = "https://auth.globus.org/v2/oauth2/token/introspect"

// introspection is the Globus Auth token-introspection response, reduced to
// the fields the provider cares about.
type introspection struct {
	Active      bool     `json:"active"`
	Scope       string   `json:"scope"`
	Sub         string   `json:"sub"`
	Username    string   `json:"username"`
	Aud         []string `json:"aud"`
	IdentitySet []string `json:"identity_set"`
}

// GlobusAuthenticator validates bearer tokens against Globus Auth using the
// provider's confidential-client credentials.
type GlobusAuthenticator struct {
	client        *resty.Client
	introspectURL string
	clientID      string
	clientSecret  string
	audience      string
	logger        *zap.Logger
}

// NewGlobusAuthenticator builds an authenticator for the given confidential
// client. audience must appear in the token's aud claim.
func NewGlobusAuthenticator(clientID, clientSecret, audience string, logger *zap.Logger) *GlobusAuthenticator {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &GlobusAuthenticator{
		client:        client,
		introspectURL: defaultIntrospectURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		audience:      audience,
		logger:        logger.With(zap.String("component", "globus-auth")),
	}
}

// SetIntrospectURL overrides the introspection endpoint, for tests.
func (g *GlobusAuthenticator) SetIntrospectURL(url string) {
	g.introspectURL = url
}

// Authenticate introspects the bearer token and returns the caller's full
// identity set as Globus identity URNs.
func (g *GlobusAuthenticator) Authenticate(ctx context.Context, bearerToken string) (*Identity, error) {
	if bearerToken == "" {
		return nil, apierr.NoAuthentication("no bearer token provided")
	}

	var result introspection
	resp, err := g.client.R().
		SetContext(ctx).
		SetBasicAuth(g.clientID, g.clientSecret).
		SetFormData(map[string]string{
			"token":   bearerToken,
			"include": "identity_set",
		}).
		SetResult(&result).
		Post(g.introspectURL)
	if err != nil {
		return nil, apierr.Wrap(apierr.ServiceError("token introspection failed"), err)
	}
	if resp.IsError() {
		return nil, apierr.ServiceError("token introspection returned %d", resp.StatusCode())
	}

	if !result.Active {
		return nil, apierr.NoAuthentication("token is not active")
	}
	if g.audience != "" && !contains(result.Aud, g.audience) {
		g.logger.Debug("token audience mismatch", zap.Strings("aud", result.Aud))
		return nil, apierr.NoAuthentication("token not intended for this service")
	}

	identities := make([]string, 0, len(result.IdentitySet)+1)
	for _, id := range result.IdentitySet {
		identities = append(identities, identityURN(id))
	}
	effective := identityURN(result.Sub)
	if !contains(identities, effective) {
		identities = append(identities, effective)
	}

	return &Identity{
		Identities:        identities,
		EffectiveIdentity: effective,
	}, nil
}

func identityURN(id string) string {
	return fmt.Sprintf("urn:globus:auth:identity:%s", id)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
