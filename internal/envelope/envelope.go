// Package envelope implements the at-rest crypto envelope used uniformly for
// the Catalog, backup files, and share descriptors (spec §4.1, §6).
//
// Two framings share one AES-256-CBC/PKCS7 core, differing only in key
// derivation and header:
//
//   - Encrypt/Decrypt: "BKP1" || salt(16) || iv(16) || ciphertext,
//     key = SHA-256(password || salt). This is the Catalog/backup envelope
//     format; no package in this module calls it (the Catalog encrypts its
//     fields with the portable variant and checks its password against a
//     bcrypt hash).
//   - EncryptPortable/DecryptPortable: salt(16) || iv(16) || ciphertext,
//     key = PBKDF2-HMAC-SHA256(password, salt, 10000, 32). Used for share
//     descriptors and file-level "encrypt before upload".
//
// This mirrors how the teacher's storage.go factors a shared
// getGCMBlock/deriveFileKey core out of Encrypt/Decrypt, just with CBC
// instead of GCM and two derivations instead of one, per spec.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"corekit/internal/corerr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	magic             = "BKP1"
	saltSize          = 16
	ivSize            = 16
	pbkdf2Iterations  = 10000
	pbkdf2KeyLen      = 32
	framedHeaderSize  = len(magic) + saltSize + ivSize
	unframedHeaderLen = saltSize + ivSize
)

// Encrypt produces the framed BKP1 envelope: magic || salt || iv || ciphertext.
func Encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("envelope: read salt: %w", err)
	}
	key := deriveSHA256(password, salt)
	iv, ciphertext, err := aesCBCEncrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, framedHeaderSize+len(ciphertext))
	out = append(out, []byte(magic)...)
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt. Returns ErrMalformed if too short, ErrBadMagic if
// the magic prefix does not match, ErrBadPassword if the final unpad fails.
func Decrypt(envelopeBytes, password []byte) ([]byte, error) {
	if len(envelopeBytes) < framedHeaderSize {
		return nil, fmt.Errorf("envelope: %w", corerr.ErrMalformed)
	}
	if !bytes.Equal(envelopeBytes[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("envelope: %w", corerr.ErrBadMagic)
	}
	salt := envelopeBytes[len(magic) : len(magic)+saltSize]
	iv := envelopeBytes[len(magic)+saltSize : framedHeaderSize]
	ciphertext := envelopeBytes[framedHeaderSize:]

	key := deriveSHA256(password, salt)
	plaintext, err := aesCBCDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", corerr.ErrBadPassword)
	}
	return plaintext, nil
}

// EncryptPortable produces the unframed envelope used by share descriptors
// and file-level encryption: salt || iv || ciphertext, PBKDF2-derived key.
func EncryptPortable(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("envelope: read salt: %w", err)
	}
	key := derivePBKDF2(password, salt)
	iv, ciphertext, err := aesCBCEncrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, unframedHeaderLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptPortable reverses EncryptPortable.
func DecryptPortable(envelopeBytes, password []byte) ([]byte, error) {
	if len(envelopeBytes) < unframedHeaderLen {
		return nil, fmt.Errorf("envelope: %w", corerr.ErrMalformed)
	}
	salt := envelopeBytes[:saltSize]
	iv := envelopeBytes[saltSize:unframedHeaderLen]
	ciphertext := envelopeBytes[unframedHeaderLen:]

	key := derivePBKDF2(password, salt)
	plaintext, err := aesCBCDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", corerr.ErrBadPassword)
	}
	return plaintext, nil
}

func deriveSHA256(password, salt []byte) []byte {
	h := sha256.New()
	h.Write(password)
	h.Write(salt)
	return h.Sum(nil)
}

func derivePBKDF2(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
}

func aesCBCEncrypt(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: new cipher: %w", err)
	}
	iv = make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("envelope: read iv: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext = make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext not block aligned")
	}
	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("empty data")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n || padLen > aes.BlockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:n-padLen], nil
}

// StreamCopy is a small helper for callers that encrypt/decrypt whole
// files by buffering through memory (the spec's envelope is not itself
// streaming; chunking happens above this layer in the upload/download
// engines). Kept here so callers don't reimplement the read-all dance.
func StreamCopy(w io.Writer, r io.Reader) (int64, error) {
	return io.Copy(w, r)
}
