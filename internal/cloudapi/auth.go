package cloudapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
)

// Claims is the JWT payload issued at /login, generalized from the
// teacher's single-UserID Claims to carry the gate/role pair spec §6's
// login response requires.
type Claims struct {
	GateID string `json:"gateid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Server) issueToken(gateID, role string) (string, error) {
	claims := &Claims{
		GateID: gateID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "parking-cloud",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

func (s *Server) parseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.New("auth", "token", apperr.Unauthorized, "invalid token")
	}
	return claims, nil
}

// handleLogin implements POST /login{username,password} ->
// {ok,username,gateid,role,token}.
func (s *Server) handleLogin(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	user, err := s.engine.FindUser(c.Request.Context(), input.Username)
	if err != nil {
		renderError(c, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		renderError(c, apperr.New("login", "user", apperr.Unauthorized, "invalid credentials"))
		return
	}

	token, err := s.issueToken(user.GateID, user.Role)
	if err != nil {
		renderError(c, apperr.Wrap("login", "token", apperr.Internal, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok": true, "username": user.Username, "gateid": user.GateID,
		"role": user.Role, "token": token,
	})
}

// AuthMiddleware enforces the Bearer token spec §6 requires on every
// non-public route, and stashes the gate/role on the context.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing bearer token"})
			return
		}
		presented := header[len(prefix):]

		// Gate Nodes authenticate with the shared SECRET_TOKEN directly
		// (original_source/parking-cloud/gates_api.py's verify_token),
		// rather than going through a login round-trip for every request.
		if presented == s.secret {
			c.Set("role", "gate")
			c.Next()
			return
		}

		claims, err := s.parseToken(presented)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid token"})
			return
		}
		c.Set("gateid", claims.GateID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
