package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the wallet-bound player identity carried by a relay token.
type Identity struct {
	Name          string
	WalletAddress string
}

// GenerateToken mints a connection token for the relay websocket.
func GenerateToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"name":   id.Name,
		"wallet": id.WalletAddress,
		"exp":    now.Add(ttl).Unix(),
		"iat":    now.Unix(),
		"nbf":    now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates a connection token and extracts the identity.
func ParseToken(secret []byte, tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	now := time.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < now {
		return Identity{}, ErrInvalidToken
	}
	if nbf, ok := claims["nbf"].(float64); ok && int64(nbf) > now {
		return Identity{}, ErrInvalidToken
	}

	wallet, ok := claims["wallet"].(string)
	if !ok || wallet == "" {
		return Identity{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)

	return Identity{Name: name, WalletAddress: wallet}, nil
}
