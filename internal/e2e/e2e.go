// Package e2e implements the direct-message encryption scheme. Both peers
// derive the same AES-256-GCM key from their two user ids, so no key
// exchange is needed.
package e2e

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
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Placeholder replaces any body that fails to decrypt.
const Placeholder = "[unable to decrypt message]"

const (
	keySize        = 32
	nonceSize      = 12
	tagSize        = 16
	envelopeSep    = ":"
	derivationInfo = "chatsync dm v1"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrNoLocalUser       = errors.New("local user id not set")
)

type Key [keySize]byte

type pair struct {
	lo, hi int
}

func sortedPair(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{lo: a, hi: b}
}

// DeriveKey hashes the sorted id pair into key material and expands it
// with HKDF. The result does not depend on argument order.
func DeriveKey(localId, counterpartId int) (Key, error) {
	p := sortedPair(localId, counterpartId)
	material := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", p.lo, p.hi)))

	var key Key
	r := hkdf.New(sha256.New, material[:], nil, []byte(derivationInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return Key{}, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// Cipher encrypts and decrypts bodies exchanged between the local user and
// a counterpart. AEADs are cached per pair; the cache only ever grows until
// Reset.
type Cipher struct {
	mu      sync.RWMutex
	localId int
	aeads   sync.Map // pair -> cipher.AEAD
	rand    io.Reader
}

func NewCipher(localId int) *Cipher {
	return &Cipher{localId: localId, rand: rand.Reader}
}

func (c *Cipher) LocalId() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localId
}

// SetLocalId changes the local identity and drops cached keys.
func (c *Cipher) SetLocalId(id int) {
	c.mu.Lock()
	c.localId = id
	c.mu.Unlock()
	c.Reset()
}

// Reset empties the key cache.
func (c *Cipher) Reset() {
	c.aeads.Range(func(k, _ any) bool {
		c.aeads.Delete(k)
		return true
	})
}

// CachedKeys reports how many pair keys are cached.
func (c *Cipher) CachedKeys() int {
	n := 0
	c.aeads.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *Cipher) aead(counterpartId int) (cipher.AEAD, error) {
	localId := c.LocalId()
	if localId == 0 {
		return nil, ErrNoLocalUser
	}

	p := sortedPair(localId, counterpartId)
	if v, ok := c.aeads.Load(p); ok {
		return v.(cipher.AEAD), nil
	}

	key, err := DeriveKey(localId, counterpartId)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	v, _ := c.aeads.LoadOrStore(p, gcm)
	return v.(cipher.AEAD), nil
}

// Encrypt seals plaintext under the pair key with a fresh nonce and
// returns base64(nonce) + ":" + base64(ciphertext).
func (c *Cipher) Encrypt(plaintext string, counterpartId int) (string, error) {
	gcm, err := c.aead(counterpartId)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + envelopeSep +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Open is the error-returning form of Decrypt.
func (c *Cipher) Open(envelope string, counterpartId int) (string, error) {
	gcm, err := c.aead(counterpartId)
	if err != nil {
		return "", err
	}

	nonce, sealed, err := parseEnvelope(envelope)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}

// IsEnvelope reports whether s has the shape Encrypt produces. It says
// nothing about which key sealed it.
func IsEnvelope(s string) bool {
	_, _, err := parseEnvelope(s)
	return err == nil
}

func parseEnvelope(envelope string) ([]byte, []byte, error) {
	noncePart, sealedPart, ok := strings.Cut(envelope, envelopeSep)
	if !ok {
		return nil, nil, ErrMalformedEnvelope
	}
	nonce, err := base64.StdEncoding.DecodeString(noncePart)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nonce: %v", ErrMalformedEnvelope, err)
	}
	if len(nonce) != nonceSize {
		return nil, nil, fmt.Errorf("%w: nonce size %d", ErrMalformedEnvelope, len(nonce))
	}
	sealed, err := base64.StdEncoding.DecodeString(sealedPart)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}
	if len(sealed) < tagSize {
		return nil, nil, fmt.Errorf("%w: ciphertext too short", ErrMalformedEnvelope)
	}
	return nonce, sealed, nil
}

// Decrypt fails closed: any error yields Placeholder.
func (c *Cipher) Decrypt(envelope string, counterpartId int) string {
	plaintext, err := c.Open(envelope, counterpartId)
	if err != nil {
		return Placeholder
	}
	return plaintext
}
