// Package secure 提供随机令牌、租户级对称加密以及文件访问密钥。
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrMalformed 表示密文无法解码或校验失败。
var ErrMalformed = errors.New("secure: malformed ciphertext")

// Token 生成 n 字节随机数据的 URL 安全编码。
func Token(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Cipher 使用 XChaCha20-Poly1305 加解密，每个租户通过 HKDF 派生独立密钥。
type Cipher struct {
	master []byte
}

// NewCipher 以服务端主密钥创建 Cipher。
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("secure: empty master secret")
	}
	return &Cipher{master: []byte(secret)}, nil
}

func (c *Cipher) tenantKey(tenantID string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, c.master, nil, []byte("paperplane/tenant/"+tenantID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive tenant key: %w", err)
	}
	return key, nil
}

// Encrypt 用租户密钥加密明文，输出 nonce||ciphertext 的 base64 编码。
func (c *Cipher) Encrypt(tenantID, plaintext string) (string, error) {
	key, err := c.tenantKey(tenantID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(tenantID))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出。
func (c *Cipher) Decrypt(tenantID, encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}

	key, err := c.tenantKey(tenantID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(tenantID))
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}

// FileAuthSecret 生成受密码保护文件的访问密钥：
// 随机令牌、时间戳、租户与文件标识拼接后编码再加密。
func (c *Cipher) FileAuthSecret(tenantID, fileID string, now time.Time) (string, error) {
	token, err := Token(24)
	if err != nil {
		return "", err
	}
	payload := strings.Join([]string{
		token,
		strconv.FormatInt(now.Unix(), 10),
		tenantID,
		fileID,
	}, ":")
	return c.Encrypt(tenantID, base64.RawURLEncoding.EncodeToString([]byte(payload)))
}

// AuthSecretClaims 是访问密钥解密后的内容。
type AuthSecretClaims struct {
	IssuedAt time.Time
	TenantID string
	FileID   string
}

// OpenFileAuthSecret 解密并解析访问密钥。
func (c *Cipher) OpenFileAuthSecret(tenantID, secret string) (AuthSecretClaims, error) {
	encoded, err := c.Decrypt(tenantID, secret)
	if err != nil {
		return AuthSecretClaims{}, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return AuthSecretClaims{}, ErrMalformed
	}

	// 文件名可能包含冒号，只切前三段
	parts := strings.SplitN(string(raw), ":", 4)
	if len(parts) != 4 {
		return AuthSecretClaims{}, ErrMalformed
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return AuthSecretClaims{}, ErrMalformed
	}
	return AuthSecretClaims{
		IssuedAt: time.Unix(ts, 0).UTC(),
		TenantID: parts[2],
		FileID:   parts[3],
	}, nil
}
