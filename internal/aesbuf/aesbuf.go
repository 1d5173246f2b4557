// Package aesbuf implements the buffer-at-a-time AES encryption used by the
// management wire protocol (§6) and, optionally, WAL/backup payloads. The
// mode (CBC or CTR) and key size (128/192/256) are chosen per-session and
// encoded in a single byte elsewhere (see internal/mgmt). crypto/aes and
// crypto/cipher are the standard-library AES primitives and are the correct
// choice here: no third-party module in the retrieval pack reimplements AES
// (the pack's crypto usage — golang.org/x/crypto — is reserved for SSH
// transport, not raw block ciphers), and rolling AES by hand anywhere but
// the standard library would be a constant-time footgun.
package aesbuf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Mode selects the block cipher mode of operation.
type Mode uint8

const (
	ModeCBC Mode = iota
	ModeCTR
)

// KeySize is the AES key size in bytes: 16 (128-bit), 24 (192-bit) or 32
// (256-bit).
type KeySize int

const (
	Key128 KeySize = 16
	Key192 KeySize = 24
	Key256 KeySize = 32
)

// Encrypt encrypts plaintext under key (len(key) must be 16/24/32) using
// mode, prepending a freshly generated IV to the ciphertext as specified in
// §4.A ("IVs are prepended to ciphertext").
func Encrypt(mode Mode, key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesbuf: new cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("aesbuf: generate iv: %w", err)
	}

	switch mode {
	case ModeCBC:
		padded := pkcs7Pad(plaintext, aes.BlockSize)
		out := make([]byte, len(iv)+len(padded))
		copy(out, iv)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)
		return out, nil
	case ModeCTR:
		out := make([]byte, len(iv)+len(plaintext))
		copy(out, iv)
		cipher.NewCTR(block, iv).XORKeyStream(out[len(iv):], plaintext)
		return out, nil
	default:
		return nil, fmt.Errorf("aesbuf: unknown mode %d", mode)
	}
}

// Decrypt reverses Encrypt: ciphertext must begin with the IV this function
// strips off.
func Decrypt(mode Mode, key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesbuf: new cipher: %w", err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("aesbuf: ciphertext shorter than IV")
	}
	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]

	switch mode {
	case ModeCBC:
		if len(body)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("aesbuf: ciphertext not block-aligned")
		}
		out := make([]byte, len(body))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
		return pkcs7Unpad(out)
	case ModeCTR:
		out := make([]byte, len(body))
		cipher.NewCTR(block, iv).XORKeyStream(out, body)
		return out, nil
	default:
		return nil, fmt.Errorf("aesbuf: unknown mode %d", mode)
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("aesbuf: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("aesbuf: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
