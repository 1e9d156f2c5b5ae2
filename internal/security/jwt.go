package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrNoSigningKey    = errors.New("no signing key configured")
)

// Claims: access-токен основного приложения. Роль обязательна,
// identity берётся из sub, а если его нет: из userId.
type Claims struct {
	jwt.StandardClaims
	Role   string `json:"role,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// Keys: либо RSA-пара (RS256), либо общий секрет (HS256).
type Keys struct {
	RSAPublic  *rsa.PublicKey
	RSAPrivate *rsa.PrivateKey
	Secret     []byte
}

func (k Keys) method() jwt.SigningMethod {
	if k.RSAPublic != nil || k.RSAPrivate != nil {
		return jwt.SigningMethodRS256
	}
	return jwt.SigningMethodHS256
}

type JWTVerifier struct {
	keys      Keys
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

func NewJWTVerifier(keys Keys, issuer, audience string, clockSkew time.Duration) *JWTVerifier {
	return &JWTVerifier{
		keys:      keys,
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

// Verify реализует relay.Verifier.
func (v *JWTVerifier) Verify(tokenStr string) (domain.Identity, error) {
	claims, err := v.ParseAndValidate(tokenStr)
	if err != nil {
		return domain.Identity{}, err
	}
	return IdentityFromClaims(claims)
}

func (v *JWTVerifier) ParseAndValidate(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	want := v.keys.method()

	claims := &Claims{}
	p := jwt.Parser{SkipClaimsValidation: true}
	token, err := p.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != want.Alg() {
			return nil, ErrInvalidToken
		}
		switch want {
		case jwt.SigningMethodRS256:
			if v.keys.RSAPublic != nil {
				return v.keys.RSAPublic, nil
			}
			return &v.keys.RSAPrivate.PublicKey, nil
		default:
			if len(v.keys.Secret) == 0 {
				return nil, ErrNoSigningKey
			}
			return v.keys.Secret, nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidAudience
	}

	// exp/nbf с допуском clockSkew; exp обязателен
	now := v.now()
	if claims.ExpiresAt == 0 {
		return nil, ErrTokenExpired
	}
	exp := time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)
	if now.After(exp) {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != 0 {
		nbf := time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)
		if now.Before(nbf) {
			return nil, ErrTokenExpired
		}
	}

	return claims, nil
}

// IdentityFromClaims достаёт identity и нормализованную роль.
func IdentityFromClaims(c *Claims) (domain.Identity, error) {
	if c == nil {
		return domain.Identity{}, ErrInvalidSubject
	}
	id := strings.TrimSpace(c.Subject)
	if id == "" {
		id = strings.TrimSpace(c.UserID)
	}
	if id == "" {
		return domain.Identity{}, ErrInvalidSubject
	}
	// неизвестная роль не ошибка аутентификации: её отвергнет join
	return domain.Identity{ID: id, Role: domain.ParseRole(c.Role)}, nil
}

// JWTSigner выпускает токены для CLI `token` и тестов.
type JWTSigner struct {
	keys     Keys
	issuer   string
	audience string
	ttl      time.Duration
}

func NewJWTSigner(keys Keys, issuer, audience string, ttl time.Duration) *JWTSigner {
	return &JWTSigner{keys: keys, issuer: issuer, audience: audience, ttl: ttl}
}

// Sign выпускает токен с sub=identity, role и exp=now+ttl.
func (s *JWTSigner) Sign(id domain.Identity, now time.Time) (string, error) {
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   id.ID,
			Issuer:    s.issuer,
			Audience:  s.audience,
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		Role: string(id.Role),
	}

	method := s.keys.method()
	token := jwt.NewWithClaims(method, claims)
	if method == jwt.SigningMethodRS256 {
		if s.keys.RSAPrivate == nil {
			return "", ErrNoSigningKey
		}
		return token.SignedString(s.keys.RSAPrivate)
	}
	if len(s.keys.Secret) == 0 {
		return "", ErrNoSigningKey
	}
	return token.SignedString(s.keys.Secret)
}

func LoadRSAPrivateKeyFromPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return key, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return pub, nil
}
