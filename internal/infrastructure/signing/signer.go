package signing

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidSign = errors.New("invalid sign")

// Signer produces and checks the gateway "sign": an HS256 JWT whose claims are
// the request payload. No time-based claims are added, so the same payload and
// secret always give the same token.
type Signer interface {
	Sign(payload map[string]string) (string, error)
	Verify(token string) (map[string]string, error)
}

type hmacSigner struct {
	secret []byte
}

func NewSigner(secret string) Signer {
	return &hmacSigner{secret: []byte(secret)}
}

func (s *hmacSigner) Sign(payload map[string]string) (string, error) {
	claims := make(jwt.MapClaims, len(payload))
	for k, v := range payload {
		claims[k] = v
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return token, nil
}

func (s *hmacSigner) Verify(token string) (map[string]string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || parsed == nil || !parsed.Valid {
		return nil, ErrInvalidSign
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidSign
	}
	out := make(map[string]string, len(claims))
	for k, v := range claims {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: claim %q is not a string", ErrInvalidSign, k)
		}
		out[k] = str
	}
	return out, nil
}
