// Package auth validates access tokens the way the auth collaborator issues
// them: an HS256 JWT whose current value must also sit in the Redis session
// cache under (role, entity, device). Logout and refresh invalidate tokens by
// deleting or overwriting that cache entry, so a signature check alone is not
// enough.
package auth

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Roles recognized in token claims.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Validation errors.
var (
	ErrInvalidToken   = errors.New("invalid access token")
	ErrSessionExpired = errors.New("session expired or revoked")
)

// Claims is the identity carried by a validated token. EntityID is trusted as
// the user id for all ownership checks downstream.
type Claims struct {
	EntityID string
	Email    string
	DeviceID string
	Role     string
}

// tokenClaims is the JWT claim set the auth collaborator signs.
type tokenClaims struct {
	EntityID string `json:"entityId"`
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates access tokens against the shared signing secret and the
// Redis session cache.
type Verifier struct {
	secret []byte
	cache  *redis.Client
}

// NewVerifier creates a Verifier. The secret must match the auth service's
// access-token signing secret.
func NewVerifier(secret []byte, cache *redis.Client) *Verifier {
	return &Verifier{secret: secret, cache: cache}
}

// CacheKey is the session-cache key for an access token.
func CacheKey(role, entityID, deviceID string) string {
	return fmt.Sprintf("access_token:%s:%s:%s", role, entityID, deviceID)
}

// Validate parses and verifies the token, then requires the session cache to
// hold exactly this token for the claimed (role, entity, device). A missing
// or different cached value means the session was revoked or superseded.
func (v *Verifier) Validate(ctx context.Context, token string) (*Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.EntityID == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}

	cached, err := v.cache.Get(ctx, CacheKey(claims.Role, claims.EntityID, claims.DeviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionExpired
		}
		return nil, errors.Wrap(err, "session cache")
	}
	if cached != token {
		return nil, ErrSessionExpired
	}

	return &Claims{
		EntityID: claims.EntityID,
		Email:    claims.Email,
		DeviceID: claims.DeviceID,
		Role:     claims.Role,
	}, nil
}
