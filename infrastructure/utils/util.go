package utils

import (
	"time"

	"github.com/golang-jwt/jwt"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/infrastructure/logger"
)

func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// GenerateToken signs an HS256 bearer token for userID valid for ttl.
func GenerateToken(userID, userName string, ttl time.Duration, secretKey string) (string, error) {
	now := GetCurrentTime()
	claims := model.UserClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Issuer:    userID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
		UserName: userName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while generate token")
		return "", err
	}
	return tokenString, nil
}
