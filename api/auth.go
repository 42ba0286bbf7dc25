package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"prism-board/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

var errTokenExpired = errors.New("token expired")

// Auth issues HS256 session tokens and validates incoming ones. When JWKS is
// set, RS256 tokens from that issuer are accepted as well.
type Auth struct {
	Secret   []byte
	TTL      time.Duration
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. jwks may be nil.
func NewAuth(secret []byte, ttl time.Duration, jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	if len(secret) == 0 {
		panic("api.NewAuth: secret is empty")
	}
	methods := []string{"HS256"}
	if jwks != nil {
		methods = append(methods, "RS256")
	}
	return &Auth{
		Secret:      secret,
		TTL:         ttl,
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods(methods)),
		keyCacheTTL: defaultJWKSCacheTTL,
		now:         time.Now,
	}
}

// Issue signs a session token for u and returns it with the "Bearer " prefix
// clients send back in the Authorization header.
func (a *Auth) Issue(u domain.User) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"id":    u.ID,
		"sub":   u.ID,
		"email": u.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(a.TTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", err
	}
	return "Bearer " + signed, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer extracts the user identifier from a bearer token presented as raw bytes.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}

	parsedToken, err := a.parser.Parse(string(token), func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return a.Secret, nil
		case *jwt.SigningMethodRSA:
			return a.keyForToken(t)
		}
		return nil, errors.New("invalid signing method")
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := a.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if _, external := parsedToken.Method.(*jwt.SigningMethodRSA); external {
		if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
			return "", errors.New("invalid audience")
		}
		if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
			return "", errors.New("invalid issuer")
		}
	}

	if id, ok := claims["id"].(string); ok && id != "" {
		return id, nil
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
