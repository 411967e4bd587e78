package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/logger"
	"github.com/ariefcatur/go-realty-reservations/internal/metrics"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

// Claims is the bearer token payload. Tokens are issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Auth struct {
	SigningKey []byte
}

// Sign issues an HS256 token for actor.
func (a Auth) Sign(actor realty.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: actor.UserID,
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.SigningKey)
}

func (a Auth) Parse(token string) (realty.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.SigningKey, nil
	})
	if err != nil {
		return realty.Actor{}, err
	}
	actor := realty.Actor{UserID: claims.UserID, Role: realty.Role(claims.Role)}
	if actor.UserID == "" || !actor.Role.Valid() {
		return realty.Actor{}, errors.New("token carries no valid user or role")
	}
	return actor, nil
}

// Middleware rejects requests without a valid bearer token and stores the actor in the context.
func (a Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		h := r.Header.Get("Authorization")
		if h == "" {
			metrics.AuthFailures.WithLabelValues("missing").Inc()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			h = h[7:]
		}
		actor, err := a.Parse(h)
		if err != nil {
			log.Warn("invalid token", zap.Error(err))
			metrics.AuthFailures.WithLabelValues("invalid").Inc()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}

		log = log.With(zap.String("user_id", actor.UserID), zap.String("role", string(actor.Role)))
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		ctx = logger.WithContext(ctx, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type actorKey struct{}

func ActorFrom(ctx context.Context) realty.Actor {
	a, _ := ctx.Value(actorKey{}).(realty.Actor)
	return a
}
