package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-evaluation/internal/config"
)

const inviteIssuer = "exstem-evaluation"

// InviteClaims are carried by a candidate access token. The token is the
// only credential a candidate has: it names one evaluation and one candidate.
type InviteClaims struct {
	jwt.RegisteredClaims
	EvaluationID uuid.UUID `json:"evaluation_id"`
	Candidate    string    `json:"candidate"`
}

// InviteService issues and validates candidate access tokens.
type InviteService struct {
	cfg *config.Config
	rdb *redis.Client
}

// NewInviteService creates a new InviteService. rdb may be nil, in which case
// revocation is not checked.
func NewInviteService(cfg *config.Config, rdb *redis.Client) *InviteService {
	return &InviteService{cfg: cfg, rdb: rdb}
}

// Issue signs a new access token. A zero expiry uses the configured default.
func (s *InviteService) Issue(evaluationID uuid.UUID, candidate string, expiry time.Duration) (string, *InviteClaims, error) {
	if evaluationID == uuid.Nil || candidate == "" {
		return "", nil, errors.New("evaluation id and candidate are required")
	}
	if expiry <= 0 {
		expiry = s.cfg.InviteExpiry
	}

	now := time.Now()
	claims := &InviteClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    inviteIssuer,
			Subject:   candidate,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		EvaluationID: evaluationID,
		Candidate:    candidate,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate parses an access token and checks it has not been revoked.
func (s *InviteService) Validate(ctx context.Context, tokenStr string) (*InviteClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &InviteClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(inviteIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInviteExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInviteInvalid, err)
	}

	claims, ok := token.Claims.(*InviteClaims)
	if !ok || !token.Valid || claims.EvaluationID == uuid.Nil || claims.Candidate == "" {
		return nil, ErrInviteInvalid
	}

	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, config.CacheKey.RevokedInviteKey(claims.ID)).Result()
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if n > 0 {
			return nil, ErrInviteRevoked
		}
	}

	return claims, nil
}

// Revoke blocks a token until it would have expired anyway.
func (s *InviteService) Revoke(ctx context.Context, claims *InviteClaims) error {
	if s.rdb == nil {
		return errors.New("revocation requires redis")
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, config.CacheKey.RevokedInviteKey(claims.ID), 1, ttl).Err()
}
