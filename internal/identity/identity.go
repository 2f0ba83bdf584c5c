package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// PublicKeySize 节点公钥长度
	PublicKeySize = ed25519.PublicKeySize
	// SignatureSize 签名长度
	SignatureSize = ed25519.SignatureSize
	// NonceSize 握手挑战随机数长度
	NonceSize = 32
	// FingerprintSize 身份指纹长度（BLAKE2b-256）
	FingerprintSize = 32
)

// NodeIdentity 网络参与者的公钥身份，握手后不可变
type NodeIdentity struct {
	PublicKey ed25519.PublicKey
}

// NewNodeIdentity 从原始公钥字节创建身份
func NewNodeIdentity(raw []byte) (*NodeIdentity, error) {
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	key := make(ed25519.PublicKey, PublicKeySize)
	copy(key, raw)
	return &NodeIdentity{PublicKey: key}, nil
}

// Bytes 返回公钥字节
func (n *NodeIdentity) Bytes() []byte {
	return n.PublicKey
}

// Fingerprint 计算身份指纹（公钥的BLAKE2b-256摘要）
func (n *NodeIdentity) Fingerprint() [FingerprintSize]byte {
	return blake2b.Sum256(n.PublicKey)
}

// FingerprintHex 返回十六进制身份指纹，用于令牌绑定和日志
func (n *NodeIdentity) FingerprintHex() string {
	sum := n.Fingerprint()
	return hex.EncodeToString(sum[:])
}

// Equal 判断两个身份是否相同
func (n *NodeIdentity) Equal(other *NodeIdentity) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.PublicKey.Equal(other.PublicKey)
}

// VerifyNonce 校验对方对连接挑战随机数的占有证明签名
func (n *NodeIdentity) VerifyNonce(nonce, signature []byte) bool {
	if len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(n.PublicKey, nonce, signature)
}

// KeyPair 本地节点密钥对
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateKeyPair 生成新的节点密钥对
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair failed: %w", err)
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

// Identity 返回密钥对对应的公开身份
func (k *KeyPair) Identity() *NodeIdentity {
	return &NodeIdentity{PublicKey: k.Public}
}

// SignNonce 对连接挑战随机数签名，作为占有证明
func (k *KeyPair) SignNonce(nonce []byte) []byte {
	return ed25519.Sign(k.Private, nonce)
}

// NewNonce 生成连接级挑战随机数
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce failed: %w", err)
	}
	return nonce, nil
}
