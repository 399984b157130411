package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ownerKey = "owner_id"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims identifies the photo owner. Tokens carry the owner either in
// user_id or in the standard subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// ParseOwner validates an HS256 token and returns the owner it names.
func ParseOwner(tokenString, secret string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrExpiredToken
		}
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	owner, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return owner, nil
}

// IssueToken signs a token for owner. ttl <= 0 means no expiry.
func IssueToken(secret string, owner uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: owner.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  owner.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		// browsers cannot set headers on websocket upgrades
		return c.Query("token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// OwnerMiddleware authenticates the caller and stores the owner id in the
// request context.
func OwnerMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := ParseOwner(bearerToken(c), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

// OwnerFrom returns the owner set by OwnerMiddleware.
func OwnerFrom(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ownerKey)
	if !ok {
		return uuid.Nil, false
	}
	owner, ok := v.(uuid.UUID)
	return owner, ok
}

// SetOwner is used by tests and trusted internal callers.
func SetOwner(c *gin.Context, owner uuid.UUID) {
	c.Set(ownerKey, owner)
}
