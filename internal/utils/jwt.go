// internal/utils/jwt.go
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v4"

	"github.com/javajoker/imi-market/internal/authz"
)

const issuer = "imi-market"

// JWTClaims identify the caller by address and carry the capabilities the
// core checks per call.
type JWTClaims struct {
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities,omitempty"`
	jwt.RegisteredClaims
}

var jwtSecret = []byte("your-secret-key-change-in-production")

func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

func GenerateJWT(addr common.Address, caps []authz.Capability, ttlHours int) (string, error) {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		if !c.Valid() {
			return "", fmt.Errorf("unknown capability %q", c)
		}
		names = append(names, string(c))
	}

	now := time.Now()
	claims := JWTClaims{
		Address:      addr.Hex(),
		Capabilities: names,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   addr.Hex(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ValidateJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if !common.IsHexAddress(claims.Address) {
			return nil, errors.New("token address is not a hex address")
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Principal converts the claims into the caller passed to core operations.
// Unknown capabilities are dropped.
func (c *JWTClaims) Principal() authz.Principal {
	p := authz.Principal{Address: common.HexToAddress(c.Address)}
	for _, name := range c.Capabilities {
		if capability := authz.Capability(name); capability.Valid() {
			p.Capabilities = append(p.Capabilities, capability)
		}
	}
	return p
}
