package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Caller is the identity carried by a verified access token.
type Caller struct {
	UserID string
	Role   string
	Ver    int64
	Exp    time.Time
}

type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (Caller, error)
}

type HS256Verifier struct {
	secret []byte
	issuer string
}

// NewHS256Verifier verifies tokens minted by the auth service. A non-empty issuer
// must match the iss claim exactly.
func NewHS256Verifier(secret, issuer string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret), issuer: issuer}
}

type accessClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	Ver    int64  `json:"ver"`
	jwt.RegisteredClaims
}

func (v *HS256Verifier) VerifyAccessToken(token string) (Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		// prevent alg confusion
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrTokenInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Caller{}, ErrTokenExpired
		}
		return Caller{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Caller{}, ErrTokenInvalid
	}

	c := Caller{UserID: claims.UserID, Role: claims.Role, Ver: claims.Ver}
	if claims.ExpiresAt != nil {
		c.Exp = claims.ExpiresAt.Time
	}
	if c.Role == "" {
		c.Role = "user"
	}
	return c, nil
}
