package auth

import "context"

// Sentinel principals understood by the authorization predicate.
const (
	AllAuthenticatedUsers = "all_authenticated_users"
	Public                = "public"
)

// Identity is the authentication result for one request: the full set of
// linked principal URNs plus the identity the token was issued to.
type Identity struct {
	Identities        []string
	EffectiveIdentity string
}

// Authenticator resolves a bearer token into a caller identity. It returns
// a NoAuthentication error for missing, expired or out-of-audience tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (*Identity, error)
}

// Authorized reports whether the caller may act on a target principal set:
// true when the identity sets intersect, or when the target contains a
// sentinel granting access to every authenticated caller.
func Authorized(caller *Identity, target []string) bool {
	if caller == nil {
		return false
	}
	for _, t := range target {
		if t == AllAuthenticatedUsers || t == Public {
			return true
		}
		for _, id := range caller.Identities {
			if id == t {
				return true
			}
		}
	}
	return false
}
