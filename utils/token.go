package utils

import (
	"matchlink-service/config"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMetadata struct to describe metadata in JWT. Tokens are issued by the
// external auth service; this side only validates and extracts.
type TokenMetadata struct {
	Id  string
	Exp int64
}

func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Config(key)), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := t.Claims.(jwt.MapClaims); ok && t.Valid {
		return &TokenMetadata{
			Id:  claims["id"].(string),
			Exp: int64(claims["exp"].(float64)),
		}, nil
	}

	return nil, err
}
