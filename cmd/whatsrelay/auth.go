package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "whatsrelay/internal/errors"
	"whatsrelay/internal/middleware"
	"whatsrelay/internal/tracing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const adminIssuer = "whatsrelay"

type adminContextKey struct{}

// AdminClaims are carried by admin bearer tokens
type AdminClaims struct {
	Admin bool `json:"adm"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token valid for ttl
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin JWT secret is not configured")
	}
	now := time.Now()
	claims := AdminClaims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    adminIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseAdminToken(secret, raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(adminIssuer))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("token has no expiry")
	}
	if !claims.Admin {
		return nil, errors.New("token is not an admin token")
	}
	return claims, nil
}

// requireAdmin guards a handler with an admin bearer token. An empty secret
// leaves the handler open.
func requireAdmin(secret string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason string) {
				logger.WithFields(logrus.Fields{
					"reason":     reason,
					"remote_ip":  middleware.GetClientIP(r),
					"request_id": tracing.GetRequestID(r.Context()),
				}).Warn("Rejected admin request")
				resp := apperrors.ToHTTPResponse(apperrors.NewAuthError(reason), tracing.GetRequestID(r.Context()))
				_ = writeJSONStatus(w, http.StatusUnauthorized, resp)
			}

			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				reject("bearer token required")
				return
			}
			claims, err := parseAdminToken(secret, strings.TrimSpace(token))
			if err != nil {
				reject(err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), adminContextKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminSubject returns the subject of the admin token on ctx, if any
func adminSubject(ctx context.Context) string {
	subject, _ := ctx.Value(adminContextKey{}).(string)
	return subject
}
