package application

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidKeyHash         = errors.New("invalid admin key hash format")
	ErrIncompatibleKeyVersion = errors.New("incompatible admin key hash version")
)

type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// HashAdminKey derives an encoded argon2id hash of key.
func HashAdminKey(key string, params Argon2idParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(key), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// $argon2id$v=19$m=...,t=...,p=...$salt$hash
	format := "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	return fmt.Sprintf(format, argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// AdminKeyVerifier checks presented administrator keys against a stored hash.
type AdminKeyVerifier struct {
	salt   []byte
	hash   []byte
	params Argon2idParams
}

// NewAdminKeyVerifier parses an encoded argon2id hash once.
func NewAdminKeyVerifier(encoded string) (*AdminKeyVerifier, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 6 {
		return nil, ErrInvalidKeyHash
	}
	if parts[1] != "argon2id" {
		return nil, ErrInvalidKeyHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleKeyVersion
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	params.SaltLength = uint32(len(salt))

	decoded, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	params.KeyLength = uint32(len(decoded))

	return &AdminKeyVerifier{salt: salt, hash: decoded, params: params}, nil
}

// Verify reports whether key matches the stored hash.
func (v *AdminKeyVerifier) Verify(key string) bool {
	if v == nil || key == "" {
		return false
	}
	p := v.params
	candidate := argon2.IDKey([]byte(key), v.salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(v.hash, candidate) == 1
}
