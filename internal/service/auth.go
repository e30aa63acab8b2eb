package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/repository"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	TokenTTL     = 24 * time.Hour
	addressClaim = "address"
)

type authService struct {
	store        repository.Store
	jwtSecretKey []byte
	now          func() time.Time
}

func NewAuthService(store repository.Store, jwtSecretKey string) core.AuthService {
	return &authService{
		store:        store,
		jwtSecretKey: []byte(jwtSecretKey),
		now:          time.Now,
	}
}

func (s *authService) Register(ctx context.Context, login, password string) (*model.User, string, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user := &model.User{
		Login:        login,
		PasswordHash: string(hashedPassword),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, "", ErrUserAlreadyExists
		}
		return nil, "", err
	}

	token, err := s.generateToken(user.Login)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

func (s *authService) Login(ctx context.Context, login, password string) (*model.User, string, error) {
	user, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.generateToken(user.Login)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// ValidateToken returns the ledger address the token was issued for.
func (s *authService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	address, ok := claims[addressClaim].(string)
	if !ok || address == "" {
		return "", ErrInvalidToken
	}
	return address, nil
}

func (s *authService) generateToken(address string) (string, error) {
	claims := jwt.MapClaims{
		addressClaim: address,
		"exp":        s.now().Add(TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecretKey)
}
