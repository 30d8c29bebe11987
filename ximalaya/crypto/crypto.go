// Package crypto turns the encrypted playback URLs returned by the track
// info endpoint into plain URLs.
package crypto

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeptore/xmfetch/cache"
)

const keyHex = "aaad3e4fd540b0f79dca95606e72bf93"

var ErrMalformed = errors.New("malformed encrypted url")

// Decrypter is a pure function from an encrypted URL to a plain one.
type Decrypter func(encrypted string) (string, error)

// Decrypt reverses the web player's AES-128-ECB encoding. The input is base64
// in either alphabet, with or without padding.
func Decrypt(encrypted string) (string, error) {
	raw, err := decodeBase64(encrypted)
	if nil != err {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	key, err := hex.DecodeString(keyHex)
	if nil != err {
		return "", fmt.Errorf("failed to decode key: %v", err)
	}

	block, err := aes.NewCipher(key)
	if nil != err {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}

	bs := block.BlockSize()
	if len(raw) == 0 || len(raw)%bs != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrMalformed, len(raw), bs)
	}

	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += bs {
		block.Decrypt(out[i:i+bs], raw[i:i+bs])
	}

	out, err = unpad(out, bs)
	if nil != err {
		return "", err
	}

	return string(out), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")

	return base64.RawStdEncoding.DecodeString(s)
}

func unpad(b []byte, blockSize int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrMalformed, n)
	}

	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("%w: invalid padding bytes", ErrMalformed)
	}

	return b[:len(b)-n], nil
}

// Memoize wraps d so each distinct input is decrypted at most once per ttl.
func Memoize(d Decrypter, c *cache.Cache, ttl time.Duration) Decrypter {
	return func(encrypted string) (string, error) {
		return c.DecryptedURLs.Fetch(encrypted, ttl, func() (string, error) {
			return d(encrypted)
		})
	}
}
