package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"can_analyzer_shop/internal/models"
)

const (
	bcryptCost     = 12
	tokenLifetime  = 30 * 24 * time.Hour
	tokenTypeValue = "access"
)

// ErrInvalidCredentials is returned for both unknown usernames and bad
// passwords so callers cannot probe which accounts exist
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrUsernameTaken is returned when registering an existing username
var ErrUsernameTaken = errors.New("username already exists")

// AuthClaims are the JWT claims issued to logged-in users
type AuthClaims struct {
	Username  string `json:"username"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies access tokens for the feedback board
// and the checkout endpoint
type AuthService struct {
	db     *gorm.DB
	secret []byte
}

// NewAuthService builds an auth service from the environment
func NewAuthService(db *gorm.DB) *AuthService {
	secret := os.Getenv("JWT_SECRET")
	if len(secret) < 32 {
		log.Println("WARNING: JWT_SECRET is weak or unset. Set a strong secret in production!")
	}
	return &AuthService{db: db, secret: []byte(secret)}
}

// HashPassword hashes a plaintext password with bcrypt
func (s *AuthService) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// GenerateToken issues a signed access token for a user
func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := AuthClaims{
		Username:  user.Username,
		TokenType: tokenTypeValue,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates an access token. Only HS256 is
// accepted and only tokens of type "access".
func (s *AuthService) VerifyToken(tokenString string) (*AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid || claims.TokenType != tokenTypeValue {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Register creates a new user account and returns it with a token
func (s *AuthService) Register(username, password, email string) (*models.User, string, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, "", err
	}
	if count > 0 {
		return nil, "", ErrUsernameTaken
	}

	hashed, err := s.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user := models.User{Username: username, Password: hashed, Email: email}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, "", err
	}

	token, err := s.GenerateToken(&user)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// Login checks credentials and returns the user with a fresh token
func (s *AuthService) Login(username, password string) (*models.User, string, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.GenerateToken(&user)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// GetUserFromToken resolves a token back to its user row
func (s *AuthService) GetUserFromToken(tokenString string) (*models.User, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.Where("id = ?", claims.Subject).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
