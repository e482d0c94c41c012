package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// KeyType selects the algorithm of generated key pairs. Only types of at
// least 4096-bit RSA strength are offered.
type KeyType int

// Supported key types. KeyRSA4096 is the default.
const (
	KeyRSA4096 KeyType = iota
	KeyECDSAP384
)

// ParseKeyType parses the names returned by [KeyType.String].
func ParseKeyType(s string) (KeyType, error) {
	switch s {
	case "rsa4096":
		return KeyRSA4096, nil
	case "ecdsa-p384":
		return KeyECDSAP384, nil
	}
	return 0, fmt.Errorf("%w: unknown key type %q", ErrKeyGeneration, s)
}

// String returns the key type name.
func (k KeyType) String() string {
	switch k {
	case KeyRSA4096:
		return "rsa4096"
	case KeyECDSAP384:
		return "ecdsa-p384"
	}
	return fmt.Sprintf("KeyType(%d)", int(k))
}

// generate creates a brand-new key pair.
func (k KeyType) generate() (crypto.Signer, error) {
	switch k {
	case KeyRSA4096:
		key, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa: %w", ErrKeyGeneration, err)
		}
		return key, nil
	case KeyECDSAP384:
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: ecdsa: %w", ErrKeyGeneration, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: unsupported %v", ErrKeyGeneration, k)
}
