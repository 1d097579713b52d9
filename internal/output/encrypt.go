package output

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/banton/medical-patients-sub003/internal/apierror"
)

const (
	pbkdf2Iterations = 100000
	saltSize         = 16
	keySize          = 32 // AES-256
	ivSize           = aes.BlockSize
)

// Encrypt derives a 256-bit key from password via PBKDF2-HMAC-SHA256 and
// encrypts plaintext with AES-256-CTR. The output envelope is
// salt(16) || iv(16) || ciphertext, so Decrypt needs only the password.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, apierror.Generation("output: generate salt: %v", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierror.Generation("output: construct cipher: %v", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, apierror.Generation("output: generate iv: %v", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	out := make([]byte, 0, saltSize+ivSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt given the same password.
func Decrypt(envelope []byte, password string) ([]byte, error) {
	if len(envelope) < saltSize+ivSize {
		return nil, apierror.Validation("output: encrypted payload too short")
	}
	salt := envelope[:saltSize]
	iv := envelope[saltSize : saltSize+ivSize]
	ciphertext := envelope[saltSize+ivSize:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierror.Generation("output: construct cipher: %v", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
