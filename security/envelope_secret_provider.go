package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-hmrc/core"
)

const (
	dataKeySize  = 32
	ivSize       = 16
	gcmTagSize   = 16
	packageParts = 5
)

var (
	ErrMasterKeyMismatch = fmt.Errorf("security: decryption failed, master key may be incorrect")
	ErrDataCorrupted     = fmt.Errorf("security: decryption failed, data may be corrupted")
)

type Option func(*EnvelopeSecretProvider)

// EnvelopeSecretProvider wraps payloads with envelope encryption: a fresh
// data key encrypts the payload, the master key encrypts the data key,
// and both ciphertexts travel together in one package.
//
// The package layout is five standard-base64 fields joined with ':':
// iv, payload tag, key tag, encrypted data key, encrypted payload. The
// same IV is used for the payload and the data key.
type EnvelopeSecretProvider struct {
	masterKey []byte
	keyID     string
	version   int
}

func WithKeyID(id string) Option {
	return func(provider *EnvelopeSecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *EnvelopeSecretProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

// NewEnvelopeSecretProvider expects the master key as 64 hex characters
// decoding to exactly 32 bytes.
func NewEnvelopeSecretProvider(masterKeyHex string, opts ...Option) (*EnvelopeSecretProvider, error) {
	trimmed := strings.TrimSpace(masterKeyHex)
	if trimmed == "" {
		return nil, fmt.Errorf("security: master key is required")
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("security: master key is not valid hex: %w", err)
	}
	if len(key) != dataKeySize {
		return nil, fmt.Errorf("security: master key must decode to %d bytes, got %d", dataKeySize, len(key))
	}

	provider := &EnvelopeSecretProvider{
		masterKey: key,
		keyID:     "primary",
		version:   1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func (p *EnvelopeSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("security: iv generation failed: %w", err)
	}
	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("security: data key generation failed: %w", err)
	}

	encryptedPayload, payloadTag, err := sealWithTag(dataKey, iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("security: encrypt payload: %w", err)
	}
	encryptedKey, keyTag, err := sealWithTag(p.masterKey, iv, dataKey)
	if err != nil {
		return nil, fmt.Errorf("security: encrypt data key: %w", err)
	}

	packaged := strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(payloadTag),
		base64.StdEncoding.EncodeToString(keyTag),
		base64.StdEncoding.EncodeToString(encryptedKey),
		base64.StdEncoding.EncodeToString(encryptedPayload),
	}, ":")
	return []byte(packaged), nil
}

func (p *EnvelopeSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}

	parts := strings.Split(string(ciphertext), ":")
	if len(parts) != packageParts {
		return nil, fmt.Errorf("security: invalid encrypted package format, expected %d fields got %d", packageParts, len(parts))
	}

	decoded := make([][]byte, packageParts)
	for i, part := range parts {
		raw, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("security: decode package field %d: %w", i, err)
		}
		decoded[i] = raw
	}
	iv, payloadTag, keyTag, encryptedKey, encryptedPayload := decoded[0], decoded[1], decoded[2], decoded[3], decoded[4]

	dataKey, err := openWithTag(p.masterKey, iv, encryptedKey, keyTag)
	if err != nil {
		return nil, ErrMasterKeyMismatch
	}
	plaintext, err := openWithTag(dataKey, iv, encryptedPayload, payloadTag)
	if err != nil {
		return nil, ErrDataCorrupted
	}
	return plaintext, nil
}

func (p *EnvelopeSecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *EnvelopeSecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func (p *EnvelopeSecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func sealWithTag(key, iv, plaintext []byte) (encrypted, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	if len(sealed) < gcmTagSize {
		return nil, nil, fmt.Errorf("security: sealed payload too short")
	}
	split := len(sealed) - gcmTagSize
	return sealed[:split], sealed[split:], nil
}

func openWithTag(key, iv, encrypted, tag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(encrypted)+len(tag))
	sealed = append(sealed, encrypted...)
	sealed = append(sealed, tag...)
	return gcm.Open(nil, iv, sealed, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

var _ core.SecretProvider = (*EnvelopeSecretProvider)(nil)
