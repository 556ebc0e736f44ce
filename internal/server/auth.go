package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gravitas-games/forge/internal/config"
	"github.com/gravitas-games/forge/pkg/models"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNotActivated = errors.New("user not activated")
	ErrBanned       = errors.New("user is banned")
	ErrBlacklisted  = errors.New("token is blacklisted")
)

// Authenticator turns a bearer token into a player.
type Authenticator interface {
	ValidateToken(ctx context.Context, tokenString string) (*models.Player, error)
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	config    config.JWTConfig
	prefix    string
	publicKey *ecdsa.PublicKey
	keyMu     sync.RWMutex
	redis     *redis.Client
	client    *http.Client
	logger    *zap.Logger
}

// Claims represents JWT token claims from the login server
type Claims struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	UserType    string `json:"user_type"`
	AuthMethod  string `json:"auth_method"`
	Permissions int64  `json:"permissions"`
	Activated   int64  `json:"activated"`
	jwt.RegisteredClaims
}

// NewJWTValidator creates a validator and loads the public key once. A nil
// redis client disables the blacklist check.
func NewJWTValidator(cfg config.JWTConfig, redisClient *redis.Client, blacklistPrefix string, logger *zap.Logger) (*JWTValidator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := &JWTValidator{
		config: cfg,
		prefix: blacklistPrefix,
		redis:  redisClient,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("auth"),
	}

	if err := validator.RefreshPublicKey(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}

	validator.logger.Info("JWT validator initialized", zap.String("issuer", cfg.Issuer))
	return validator, nil
}

// RefreshPublicKey reloads the PEM public key from its file or URL.
func (v *JWTValidator) RefreshPublicKey(ctx context.Context) error {
	keyData, err := v.fetchKey(ctx)
	if err != nil {
		return err
	}

	ecdsaKey, err := ParsePublicKey(keyData)
	if err != nil {
		return err
	}

	v.keyMu.Lock()
	v.publicKey = ecdsaKey
	v.keyMu.Unlock()

	v.logger.Debug("public key refreshed")
	return nil
}

func (v *JWTValidator) fetchKey(ctx context.Context) ([]byte, error) {
	if v.config.PublicKeyPath != "" {
		return os.ReadFile(v.config.PublicKeyPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.PublicKeyURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("public key endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<10))
}

// ParsePublicKey decodes a PEM-encoded PKIX ECDSA public key.
func ParsePublicKey(keyData []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecdsaKey, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecdsaKey, nil
}

// RunKeyRefresh refreshes the public key periodically until ctx is done.
func (v *JWTValidator) RunKeyRefresh(ctx context.Context) {
	refreshInterval := time.Duration(v.config.PublicKeyRefreshHrs) * time.Hour
	if refreshInterval <= 0 {
		return
	}

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.RefreshPublicKey(ctx); err != nil {
				v.logger.Warn("failed to refresh public key", zap.Error(err))
			}
		}
	}
}

// ValidateToken validates a JWT token and returns player information
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*models.Player, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"ES256", "ES384", "ES512"})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		v.keyMu.RLock()
		defer v.keyMu.RUnlock()
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	if claims.Activated == 0 {
		return nil, ErrNotActivated
	}
	if claims.Activated == -1 {
		return nil, ErrBanned
	}

	userIDStr := strconv.FormatInt(claims.UserID, 10)
	if v.redis != nil {
		blacklistKey := v.prefix + userIDStr
		isBlacklisted, err := v.redis.Exists(ctx, blacklistKey).Result()
		if err != nil {
			// Redis being down does not fail authentication.
			v.logger.Warn("failed to check blacklist", zap.String("user", userIDStr), zap.Error(err))
		} else if isBlacklisted > 0 {
			return nil, ErrBlacklisted
		}
	}

	return &models.Player{
		ID:          userIDStr,
		Username:    claims.Username,
		Email:       claims.Email,
		UserType:    claims.UserType,
		Permissions: claims.Permissions,
		Activated:   claims.Activated,
		AuthMethod:  claims.AuthMethod,
	}, nil
}

// extractToken reads the bearer token from the Sec-WebSocket-Protocol header
// ("access_token, <token>"), the Authorization header, or the token query
// parameter, in that order.
func extractToken(r *http.Request) string {
	if protocols := r.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		parts := strings.Split(protocols, ",")
		if len(parts) == 2 && strings.TrimSpace(parts[0]) == "access_token" {
			return strings.TrimSpace(parts[1])
		}
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return r.URL.Query().Get("token")
}
