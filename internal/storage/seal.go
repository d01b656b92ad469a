package storage

import (
    "bytes"
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "crypto/sha256"
    "fmt"
    "io"

    "golang.org/x/crypto/pbkdf2"
)

// Sealed-artifact container: magic(8) + salt(16) + nonce(12) + ciphertext.
// Anon mapping and audit files go through this before upload so the
// original values never rest in the bucket in the clear, even with SSE.

var sealMagic = []byte("GCM3NCR0")

const (
    sealSaltLen   = 16
    sealNonceLen  = 12
    sealPBKDF2Its = 100000
)

// Seal encrypts data under a passphrase-derived key.
func Seal(data []byte, passphrase string) ([]byte, error) {
    if passphrase == "" {
        return nil, fmt.Errorf("seal: empty passphrase")
    }
    salt := make([]byte, sealSaltLen)
    if _, err := io.ReadFull(rand.Reader, salt); err != nil {
        return nil, fmt.Errorf("seal: generate salt: %w", err)
    }
    key := pbkdf2.Key([]byte(passphrase), salt, sealPBKDF2Its, 32, sha256.New)
    block, err := aes.NewCipher(key)
    if err != nil { return nil, fmt.Errorf("seal: %w", err) }
    gcm, err := cipher.NewGCM(block)
    if err != nil { return nil, fmt.Errorf("seal: %w", err) }
    nonce := make([]byte, sealNonceLen)
    if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
        return nil, fmt.Errorf("seal: generate nonce: %w", err)
    }
    out := make([]byte, 0, len(sealMagic)+sealSaltLen+sealNonceLen+len(data)+gcm.Overhead())
    out = append(out, sealMagic...)
    out = append(out, salt...)
    out = append(out, nonce...)
    out = gcm.Seal(out, nonce, data, nil)
    return out, nil
}

// Unseal decrypts a sealed container.
func Unseal(sealed []byte, passphrase string) ([]byte, error) {
    header := len(sealMagic) + sealSaltLen + sealNonceLen
    if len(sealed) < header+16 {
        return nil, fmt.Errorf("unseal: data too short: %d bytes", len(sealed))
    }
    if !bytes.Equal(sealed[:len(sealMagic)], sealMagic) {
        return nil, fmt.Errorf("unseal: bad magic")
    }
    salt := sealed[len(sealMagic) : len(sealMagic)+sealSaltLen]
    nonce := sealed[len(sealMagic)+sealSaltLen : header]
    key := pbkdf2.Key([]byte(passphrase), salt, sealPBKDF2Its, 32, sha256.New)
    block, err := aes.NewCipher(key)
    if err != nil { return nil, fmt.Errorf("unseal: %w", err) }
    gcm, err := cipher.NewGCM(block)
    if err != nil { return nil, fmt.Errorf("unseal: %w", err) }
    plain, err := gcm.Open(nil, nonce, sealed[header:], nil)
    if err != nil { return nil, fmt.Errorf("unseal: decrypt failed: %w", err) }
    return plain, nil
}
