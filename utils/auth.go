package utils

import (
	"time"

	"github.com/dgrijalva/jwt-go"
)

// JWT Secret Key, loaded from configuration in main.
var JwtKey = []byte("fallback-secret")

const tokenExpiry = 7 * 24 * time.Hour

// Claims represents the JWT claims attached to every bearer token.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

// GenerateJWT issues a signed token for a user.
func GenerateJWT(userID, role string) (string, error) {
	expirationTime := time.Now().Add(tokenExpiry)
	claims := &Claims{
		UserID: userID,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(JwtKey)
}

// ParseJWT validates a token string and returns its claims.
func ParseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return JwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.NewValidationError("invalid token", jwt.ValidationErrorSignatureInvalid)
	}
	return claims, nil
}
