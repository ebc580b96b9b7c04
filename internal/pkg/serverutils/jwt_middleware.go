// FILE: internal/pkg/serverutils/jwt_middleware.go
package serverutils

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const UserIdLocal = "user_id"

// OptionalJwtMiddleware sets the user_id local when a valid bearer token is
// present. Requests without a token pass through as anonymous; a token that
// fails verification is rejected.
func OptionalJwtMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		authHeader := ctx.Get("Authorization")
		if authHeader == "" {
			return ctx.Next()
		}
		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Malformed authorization header"))
		}
		if secret == "" {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Authentication is not configured"))
		}

		userId, err := ParseToken(secret, authHeader[7:])
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}

		ctx.Locals(UserIdLocal, userId)
		return ctx.Next()
	}
}

// UserId returns the authenticated user, or "" for anonymous requests.
func UserId(ctx *fiber.Ctx) string {
	userId, _ := ctx.Locals(UserIdLocal).(string)
	return userId
}

func ParseToken(secret, tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	userId, _ := claims["user_id"].(string)
	if userId == "" {
		return "", fmt.Errorf("token has no user_id")
	}
	return userId, nil
}

// IssueToken signs an HS256 token for userId.
func IssueToken(secret, userId string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userId,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
