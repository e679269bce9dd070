package app

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// handleVersion is the encoding version prefix. It is authenticated as
// part of the AAD, so swapping the version string on a sealed handle
// causes authentication failure rather than a downgrade.
const handleVersion = "v1"

var handleEncoding = base64.RawURLEncoding

// SealHandle encrypts an internal conversation id into an opaque,
// transport-safe handle bound to anonUser. Layout:
//
//	v1.<b64url(nonce)>.<b64url(ciphertext)>.<b64url(tag)>
//
// XChaCha20-Poly1305 with a fresh random 24-byte nonce per call; the
// version and the anonymized user id form the AAD, so a handle sealed
// for user A never unseals under user B even if the string is replayed.
func SealHandle(key []byte, internalID, anonUser string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating handle cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating handle nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(internalID), handleAAD(anonUser))
	split := len(sealed) - aead.Overhead()
	ciphertext, tag := sealed[:split], sealed[split:]

	return strings.Join([]string{
		handleVersion,
		handleEncoding.EncodeToString(nonce),
		handleEncoding.EncodeToString(ciphertext),
		handleEncoding.EncodeToString(tag),
	}, "."), nil
}

// UnsealHandle recovers the internal conversation id from a handle
// sealed for anonUser. Every failure mode — wrong part count, unknown
// version, bad encoding, truncated nonce, tag mismatch, wrong user —
// returns ErrInvalidHandle so responses never reveal which check
// rejected the handle.
func UnsealHandle(key []byte, handle, anonUser string) (string, error) {
	parts := strings.Split(handle, ".")
	if len(parts) != 4 {
		return "", ErrInvalidHandle
	}
	if parts[0] != handleVersion {
		return "", ErrInvalidHandle
	}

	nonce, err := handleEncoding.DecodeString(parts[1])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", ErrInvalidHandle
	}
	ciphertext, err := handleEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidHandle
	}
	tag, err := handleEncoding.DecodeString(parts[3])
	if err != nil || len(tag) != chacha20poly1305.Overhead {
		return "", ErrInvalidHandle
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", ErrInvalidHandle
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, handleAAD(anonUser))
	if err != nil {
		return "", ErrInvalidHandle
	}
	return string(plaintext), nil
}

func handleAAD(anonUser string) []byte {
	aad := make([]byte, 0, len(handleVersion)+1+len(anonUser))
	aad = append(aad, handleVersion...)
	aad = append(aad, 0)
	aad = append(aad, anonUser...)
	return aad
}
