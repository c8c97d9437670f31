// Package secrets protects API keys persisted in the configuration file.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Prefix marks a sealed value in a config file.
const Prefix = "enc:v1:"

const (
	saltSize = 16
	keySize  = 32
)

var (
	// ErrWrongPassword is returned when a sealed value cannot be opened with the given password.
	ErrWrongPassword = errors.New("secrets: wrong password")
	// ErrMalformed indicates a sealed value that does not decode.
	ErrMalformed = errors.New("secrets: malformed sealed value")
)

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal encrypts value with a key derived from password.
// Empty values and an empty password leave the value untouched.
func Seal(value, password string) (string, error) {
	if value == "" || password == "" || IsSealed(value) {
		return value, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+len(nonce)+len(value)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, []byte(value), nil)
	return Prefix + base64.RawStdEncoding.EncodeToString(blob), nil
}

// Open reverses Seal. Values without the prefix are returned as-is.
func Open(value, password string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	blob, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(blob) < saltSize {
		return "", ErrMalformed
	}
	gcm, err := newGCM(password, blob[:saltSize])
	if err != nil {
		return "", err
	}
	rest := blob[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return "", ErrMalformed
	}
	plain, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	return string(plain), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
