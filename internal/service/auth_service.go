package service

import (
	"errors"

	"github.com/lostfound/pkg/jwt"
)

type AuthService interface {
	ValidateToken(tokenString string) (string, error)
}

type authService struct {
	jwtService jwt.Service
}

func NewAuthService(jwtService jwt.Service) AuthService {
	return &authService{jwtService: jwtService}
}

func (s *authService) ValidateToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("empty token")
	}
	return s.jwtService.ValidateToken(tokenString)
}
