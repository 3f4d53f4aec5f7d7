package packaging

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSignatureMismatch is returned when no trusted key verifies an archive.
var ErrSignatureMismatch = errors.New("signature verification failed: no matching trusted key")

// GenerateKey writes a new ed25519 key pair: the hex private key to path
// and the hex public key to path+".pub".
func GenerateKey(path string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", []byte(hex.EncodeToString(pub)), 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	return pub, nil
}

// LoadPrivateKey reads a hex private key written by GenerateKey.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	b, err := readHexKey(path, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(b), nil
}

// LoadPublicKey reads a hex public key written by GenerateKey.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	b, err := readHexKey(path, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}

func readHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid key format in %s: %w", path, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("invalid key length in %s: expected %d, got %d", path, size, len(b))
	}
	return b, nil
}

// SignaturePath returns the signature file next to an archive.
func SignaturePath(archive string) string {
	return archive + ".sig"
}

// Sign writes the hex ed25519 signature of the archive's SHA-256 hash to
// SignaturePath(archive) and returns that path.
func Sign(archive string, key ed25519.PrivateKey) (string, error) {
	data, err := os.ReadFile(archive)
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}
	hash := sha256.Sum256(data)
	sig := ed25519.Sign(key, hash[:])

	sigPath := SignaturePath(archive)
	if err := os.WriteFile(sigPath, []byte(hex.EncodeToString(sig)), 0644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	return sigPath, nil
}

// Verify checks the archive against its signature file. It returns nil when
// any of the trusted keys produced the signature.
func Verify(archive, sigPath string, trusted ...ed25519.PublicKey) error {
	data, err := os.ReadFile(archive)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	hash := sha256.Sum256(data)

	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read signature file: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimSpace(string(sigData)))
	if err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length: expected %d, got %d", ed25519.SignatureSize, len(sig))
	}

	for _, pub := range trusted {
		if ed25519.Verify(pub, hash[:], sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}
