package ecourts

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// The upstream mobile app ships these constants; both sides must match them
// bit-for-bit or responses become undecryptable. A scheme change upstream is
// an operational constant update, not a design change.
var (
	requestKey = []byte("MbQeThWmZq4t6w9z")

	// responseKeyHex decodes to the AES key the upstream encrypts replies with.
	responseKeyHex = "3273357638782F413F4428472B4B6250"

	// ivPrefixes are the fixed first halves of the request IV; the wire form
	// carries the chosen index so the server can reconstruct the IV.
	ivPrefixes = [6]string{
		"556A586E32723575",
		"34743777217A2543",
		"413F4428472B4B62",
		"48404D635166546A",
		"614E645267556B58",
		"655368566D597133",
	}
)

const hexDigits = "0123456789abcdef"

// encodeRequest serializes v as JSON and encrypts it into the upstream wire
// form: 16 random hex chars, the IV prefix index digit, then the base64
// ciphertext. The IV is prefix||random decoded from hex.
func encodeRequest(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal request payload: %w", err)
	}

	idx, err := randomInt(len(ivPrefixes))
	if err != nil {
		return "", err
	}
	randomIV, err := randomHex(16)
	if err != nil {
		return "", err
	}

	iv, err := hex.DecodeString(ivPrefixes[idx] + randomIV)
	if err != nil {
		return "", fmt.Errorf("decode iv hex: %w", err)
	}

	ciphertext, err := cbcEncrypt(requestKey, iv, plaintext)
	if err != nil {
		return "", err
	}
	return randomIV + strconv.Itoa(idx) + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decodeResponse decrypts an upstream response body. The first 32 characters
// are the IV in hex, the remainder base64 ciphertext. The decrypted text has
// C0 control bytes stripped before use; the upstream leaks them into embedded
// HTML fragments.
func decodeResponse(body string) ([]byte, error) {
	body = strings.TrimSpace(body)
	if len(body) <= 32 {
		return nil, fmt.Errorf("response too short to carry an iv: %d bytes", len(body))
	}

	iv, err := hex.DecodeString(body[:32])
	if err != nil {
		return nil, fmt.Errorf("decode response iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(body[32:])
	if err != nil {
		return nil, fmt.Errorf("decode response ciphertext: %w", err)
	}

	key, err := hex.DecodeString(responseKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode response key: %w", err)
	}
	plaintext, err := cbcDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	return stripControlBytes(plaintext), nil
}

func cbcEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func cbcDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding byte %#x", b)
		}
	}
	return data[:len(data)-n], nil
}

// stripControlBytes drops U+0000..U+0019 which the upstream embeds in HTML
// table fragments and which break JSON decoding.
func stripControlBytes(data []byte) []byte {
	out := data[:0]
	for _, b := range data {
		if b > 0x19 {
			out = append(out, b)
		}
	}
	return out
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("draw random index: %w", err)
	}
	return int(v.Int64()), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("draw random iv: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = hexDigits[int(b)%len(hexDigits)]
	}
	return string(out), nil
}
