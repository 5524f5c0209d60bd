package credential

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "jwt"
	userIDClaim       = "userId"
)

// JWTVerifier accepts HS256 tokens carrying a userId claim, read from the
// session cookie or an Authorization: Bearer header.
type JWTVerifier struct {
	secret []byte
	cookie string
	parser *jwt.Parser
}

func NewJWTVerifier(secret, cookieName string) *JWTVerifier {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTVerifier{
		secret: []byte(secret),
		cookie: cookieName,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

func (v *JWTVerifier) Verify(r *http.Request) (string, error) {
	raw := ""
	if c, err := r.Cookie(v.cookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if raw == "" {
		return "", ErrNoCredentials
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	id, _ := claims[userIDClaim].(string)
	if id == "" {
		return "", fmt.Errorf("%w: missing %s claim", ErrInvalidCredentials, userIDClaim)
	}
	return id, nil
}

// SignToken issues a token JWTVerifier accepts.
func SignToken(userID, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		userIDClaim: userID,
		"exp":       time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
