package wallet

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	cipherSalt = "agenthub/wallet"
	cipherInfo = "private-key-encryption"
)

// KeyCipher 使用 XChaCha20-Poly1305 加解密钱包私钥，密钥由口令经 HKDF 派生。
type KeyCipher struct {
	secret    string
	ephemeral bool
	aead      cipher.AEAD
}

// NewKeyCipher 根据口令创建加密器；口令为空时随机生成一次性口令。
func NewKeyCipher(secret string) (*KeyCipher, error) {
	secret = strings.TrimSpace(secret)
	ephemeral := false
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("生成随机口令失败: %w", err)
		}
		secret = hex.EncodeToString(buf)
		ephemeral = true
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(cipherSalt), []byte(cipherInfo)), key); err != nil {
		return nil, fmt.Errorf("派生加密密钥失败: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("初始化加密器失败: %w", err)
	}
	return &KeyCipher{secret: secret, ephemeral: ephemeral, aead: aead}, nil
}

// Ephemeral 表示口令是否为进程内随机生成。
func (c *KeyCipher) Ephemeral() bool {
	return c.ephemeral
}

// Secret 返回口令，用于传递给子进程。
func (c *KeyCipher) Secret() string {
	return c.secret
}

// Encrypt 加密明文并返回 base64 编码的 nonce||ciphertext。
func (c *KeyCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成 nonce 失败: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt 还原 Encrypt 的输出。
func (c *KeyCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("Failed to decrypt private key: %w", err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", errors.New("Failed to decrypt private key: ciphertext too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("Failed to decrypt private key: %w", err)
	}
	return string(plain), nil
}
