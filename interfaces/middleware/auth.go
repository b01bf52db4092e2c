package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/infrastructure/logger"
)

// UserIDHeader carries the caller id when no signing secret is configured.
const UserIDHeader = "x-user-id"

// Auth resolves the caller into the "user_id" context key. With a secret it
// requires an HS256 bearer token; without one it trusts UserIDHeader, which is
// only meant for local development behind a gateway.
func Auth(secretKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		res := dto.Res{ResponseCode: "401", ResponseMessage: "Unauthorized"}

		if secretKey == "" {
			userID := strings.TrimSpace(ctx.GetHeader(UserIDHeader))
			if userID == "" {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
				return
			}
			ctx.Set("user_id", userID)
			ctx.Next()
			return
		}

		auth := strings.SplitN(ctx.GetHeader("Authorization"), "Bearer ", 2)
		if len(auth) != 2 || strings.TrimSpace(auth[1]) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}

		userClaims, token, err := getClaim(strings.TrimSpace(auth[1]), secretKey)
		if err != nil || token == nil || !token.Valid {
			res.ResponseMessage = rejection(err)
			logger.GetLogger().WithField("error", err).Warn("Rejected bearer token")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}

		userID := userClaims.Subject
		if userID == "" {
			userID = userClaims.Issuer
		}
		if userID == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		ctx.Set("user_id", userID)
		ctx.Set("user_name", userClaims.UserName)
		ctx.Next()
	}
}

func rejection(err error) string {
	var ve *jwt.ValidationError
	if errors.As(err, &ve) {
		switch {
		case ve.Errors&jwt.ValidationErrorMalformed != 0:
			return "That's not even a token"
		case ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0:
			return "Timing is everything"
		default:
			return fmt.Sprintf("Couldn't handle this token:%v", err)
		}
	}
	return "Unauthorized"
}

func getClaim(raw, secretKey string) (model.UserClaims, *jwt.Token, error) {
	var userClaims model.UserClaims
	token, err := jwt.ParseWithClaims(raw, &userClaims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	return userClaims, token, err
}
