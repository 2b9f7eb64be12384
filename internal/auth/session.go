// internal/auth/session.go

// Package auth issues and verifies the signed tokens operators present to the lobby ops API.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer  = "interchat-lobby"
	operatorRole = "lobby_operator"
)

var ErrInvalidToken = errors.New("invalid operator token")

// privateKey and publicKey sign and verify operator tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long an issued token stays valid (0 => no exp claim).
	tokenTTL time.Duration
)

// parseTokenTTL reads TOKEN_EXPIRE_TIME ("never", "0", or a Go duration such as "12h").
func parseTokenTTL() error {
	raw := os.Getenv("TOKEN_EXPIRE_TIME")
	if raw == "" || raw == "never" || raw == "0" {
		tokenTTL = 0
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse TOKEN_EXPIRE_TIME: %w", err)
	}
	tokenTTL = d
	return nil
}

// Init generates a fresh ed25519 key pair for this process. Tokens issued before a restart stop
// verifying.
func Init() error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return parseTokenTTL()
}

// InitFromPath loads raw ed25519 keys from disk so tokens survive restarts and can be shared
// between processes.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("unexpected ed25519 key sizes %d/%d", len(privateKeyData), len(publicKeyData))
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	return parseTokenTTL()
}

// InitFromEnv loads the key pair named by AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH. With
// neither set it falls back to Init and reports ephemeral=true: tokens then only verify in this
// process, which is not usable when several processes serve the ops API.
func InitFromEnv() (ephemeral bool, err error) {
	priv, pub := os.Getenv("AUTH_PRIVATE_KEY_PATH"), os.Getenv("AUTH_PUBLIC_KEY_PATH")
	switch {
	case priv != "" && pub != "":
		return false, InitFromPath(priv, pub)
	case priv != "" || pub != "":
		return false, errors.New("AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH must be set together")
	default:
		return true, Init()
	}
}

// GenerateKeyFiles writes a fresh raw ed25519 key pair in the format InitFromPath reads. Existing
// files are not overwritten.
func GenerateKeyFiles(privatePath, publicPath string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	if err := writeNew(privatePath, priv, 0o600); err != nil {
		return err
	}
	return writeNew(publicPath, pub, 0o644)
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return f.Close()
}

// CreateOperatorToken signs a token with "sub" = operator.
func CreateOperatorToken(operator string) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth not initialized")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  operator,
		"iss":  tokenIssuer,
		"role": operatorRole,
		"iat":  now.Unix(),
	}
	if tokenTTL > 0 {
		claims["exp"] = now.Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateOperator verifies a token and returns the operator it was issued to.
func AuthenticateOperator(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return "", ErrInvalidToken
	}
	if role, _ := claims["role"].(string); role != operatorRole {
		return "", fmt.Errorf("%w: missing operator role", ErrInvalidToken)
	}
	operator, ok := claims["sub"].(string)
	if !ok || operator == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return operator, nil
}
