package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "memberpass/internal/crypto"
	"memberpass/internal/errs"
	"memberpass/internal/limiter"
	"memberpass/internal/model"
	"memberpass/internal/repository"
)

// AuthService authenticates operators for the admin API.
type AuthService interface {
	// CreateOperator creates a staff account with argon2id password hashing.
	CreateOperator(ctx context.Context, username, password string) (string, error)
	// LoginWithIP applies rate limiting and authenticates the operator.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, error)
}

type AuthServiceImpl struct {
	operators repository.OperatorRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(operators repository.OperatorRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{operators: operators, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// CreateOperator creates a new operator record with a per-account salt.
func (s *AuthServiceImpl) CreateOperator(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", errors.New("empty username/password")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	hash, salt, err := pkgcrypto.HashPassword([]byte(password))
	if err != nil {
		return "", err
	}
	op := &model.Operator{ID: id, Username: username, PwdHash: hash, Salt: salt}
	if err := s.operators.Create(ctx, op); err != nil {
		return "", err
	}
	return id.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, err
	}
	if !allowed {
		return model.Tokens{}, errs.ErrRateLimited
	}

	op, err := s.operators.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), op.Salt, op.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, errs.ErrRateLimited
		}
		// account existence is hidden behind the same answer
		return model.Tokens{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash) // best-effort reset

	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   op.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
