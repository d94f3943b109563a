// Package middleware provides HTTP middleware for the scores API
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/sealed_scores/internal/errors"
	internalhttputil "github.com/R3E-Network/sealed_scores/internal/httputil"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// Claims represents JWT claims. The subject is the submitter's owner id in hex.
type Claims struct {
	AuthMethod string `json:"auth_method,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	key          interface{}
	methods      []string
	logger       *logger.Logger
	skipPrefixes []string
}

// NewAuthMiddleware creates a new authentication middleware. key is an HMAC
// secret ([]byte) for HS256 or an *rsa.PublicKey for RS256. Requests whose
// path starts with one of skipPrefixes pass through unauthenticated.
func NewAuthMiddleware(key interface{}, log *logger.Logger, skipPrefixes []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	methods := []string{jwt.SigningMethodHS256.Alg()}
	if _, ok := key.([]byte); !ok {
		methods = []string{jwt.SigningMethodRS256.Alg()}
	}
	return &AuthMiddleware{
		key:          key,
		methods:      methods,
		logger:       log,
		skipPrefixes: skipPrefixes,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithSubject(r.Context(), claims.Subject)
		m.logger.WithField("subject", claims.Subject).
			WithField("trace_id", GetTraceID(ctx)).
			Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) skipped(path string) bool {
	for _, prefix := range m.skipPrefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimRight(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods(m.methods), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithError(err).WithFields(map[string]interface{}{
		"path":     r.URL.Path,
		"method":   r.Method,
		"status":   serviceErr.HTTPStatus,
		"trace_id": GetTraceID(r.Context()),
	}).Warn("Authentication failed")
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AuthMethod: "shared_secret",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RequireSubject middleware ensures an authenticated subject is present in context
func RequireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetSubject(r.Context()) == "" {
			internalhttputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
