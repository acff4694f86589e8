// Package secure provides the at-rest content cipher and the display
// sanitizer used by the message pipeline before persistence and echo.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Cipher encrypts message content with AES-256-CBC before it reaches the
// database. Stored values use the "hex(iv):hex(ciphertext)" encoding so that
// rows written before encryption was introduced remain readable: Decrypt
// returns the stored value unchanged whenever it cannot be decrypted.
type Cipher struct {
	key []byte
}

// NewCipher derives a 256-bit key from the configured secret via HKDF-SHA256
// and returns a Cipher ready for use.
func NewCipher(secret string) *Cipher {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("anogram content at rest"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		// hkdf over sha256 cannot fail to produce 32 bytes
		panic(err)
	}
	return &Cipher{key: key}
}

// Encrypt returns the at-rest representation of plaintext. Empty input is
// stored as-is.
func (c *Cipher) Encrypt(plaintext string) string {
	if plaintext == "" {
		return plaintext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return plaintext
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return plaintext
	}

	padded := pad([]byte(plaintext))
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(encrypted)
}

// Decrypt reverses Encrypt. Values that do not carry the iv:ciphertext shape,
// or that fail to decode or unpad, are returned verbatim so that legacy and
// corrupt rows never produce an error.
func (c *Cipher) Decrypt(stored string) string {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return stored
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return stored
	}

	encrypted, err := hex.DecodeString(parts[1])
	if err != nil || len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return stored
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return stored
	}

	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, encrypted)

	plaintext, ok := unpad(decrypted)
	if !ok {
		return stored
	}
	return string(plaintext)
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}

var displayReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
	`\`, "&#x5C;",
	"`", "&#x60;",
)

// EscapeForDisplay neutralizes markup-significant characters so that stored
// and echoed content is safe to render on an HTML surface.
func EscapeForDisplay(text string) string {
	return displayReplacer.Replace(text)
}
