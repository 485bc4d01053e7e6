package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const operatorIDKey = "operator_id"

type operatorClaims struct {
	OperatorID *int64 `json:"operator_id,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware accepts HS256 bearer tokens signed with secret. The
// operator id comes from the operator_id claim, else a numeric subject.
// Without a secret every request is refused.
func NewAuthMiddleware(secret, issuer string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("authentication is not configured"))
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing bearer token"))
			return
		}

		var claims operatorClaims
		_, err := parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid token"))
			return
		}

		operatorID, err := claims.operatorID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(err.Error()))
			return
		}
		c.Set(operatorIDKey, operatorID)
		c.Next()
	}
}

func (c operatorClaims) operatorID() (int64, error) {
	if c.OperatorID != nil {
		return *c.OperatorID, nil
	}
	if c.Subject == "" {
		return 0, errors.New("token carries no operator")
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token subject %q is not an operator id", c.Subject)
	}
	return id, nil
}

// operatorFrom returns the authenticated operator, or nil on public routes.
func operatorFrom(c *gin.Context) *int64 {
	v, ok := c.Get(operatorIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(int64)
	if !ok {
		return nil
	}
	return &id
}
