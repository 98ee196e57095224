// Package security 提供凭证字段的应用层加密（AES-256-GCM，密钥经 HKDF 派生）。
//
// 密文以 "enc:v1:<base64(nonce+ciphertext)>" 形式存储。
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const cipherPrefix = "enc:v1:"

// hkdfSalt 固定盐值，不同用途通过 purpose 隔离
var hkdfSalt = []byte("leadhub-field-encryption")

// ErrInvalidCiphertext 密文格式无效或被篡改
var ErrInvalidCiphertext = errors.New("security: invalid ciphertext")

// FieldEncryptor 字段加密器，可并发使用
type FieldEncryptor struct {
	gcm cipher.AEAD
}

// NewFieldEncryptor 从主密钥派生用途专属的 AES-256 密钥
// 主密钥为空时返回错误，不提供默认密钥
func NewFieldEncryptor(masterSecret, purpose string) (*FieldEncryptor, error) {
	if strings.TrimSpace(masterSecret) == "" {
		return nil, errors.New("security: master secret must not be empty")
	}
	reader := hkdf.New(sha256.New, []byte(masterSecret), hkdfSalt, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("初始化 GCM 失败: %w", err)
	}
	return &FieldEncryptor{gcm: gcm}, nil
}

// Encrypt 加密明文，返回带前缀的存储格式
func (fe *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", errors.New("security: plaintext must not be empty")
	}
	nonce := make([]byte, fe.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}
	sealed := fe.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 生成的密文
func (fe *FieldEncryptor) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, cipherPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	nonceSize := fe.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := fe.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plain), nil
}

// IsEncrypted 判断存储值是否为密文格式
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, cipherPrefix)
}
