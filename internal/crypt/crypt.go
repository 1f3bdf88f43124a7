// Package crypt seals account tokens before they are written to the store.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const prefix = "enc:v1:"

var (
	ErrNoKey     = errors.New("encryption key is empty")
	ErrDecrypt   = errors.New("cannot decrypt value")
	ErrPlaintext = errors.New("value is not encrypted")
)

// Fixed salt; every store shares one passphrase-derived key.
var salt = []byte("dwriter/token-store/v1")

// Cipher encrypts and decrypts short secrets with a key derived from a
// passphrase.
type Cipher struct {
	key [32]byte
}

func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	derived, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	c := &Cipher{}
	copy(c.key[:], derived)
	return c, nil
}

// Encrypt returns an "enc:v1:" prefixed, base64 encoded secretbox. The empty
// string stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsEncrypted(value) {
		return "", ErrPlaintext
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}
