// Package codec turns a token into a versioned, encrypted, tamper-evident
// string and back, so it can be kept in a database, cookie or file.
//
// Wire format:
//
//	base64(Header) ":" base64(IV || SALT || CIPHERTEXT || TAG)
//
// The key is derived per serialization from the caller's passphrase and a
// random salt (PBKDF2-HMAC-SHA256), and the payload is sealed with AES-256-GCM
// under a random 16-byte IV. Two serializations of the same token never match,
// and any change to the header, IV, salt or ciphertext is rejected.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/pkg/errors"
)

// Header marks the format version. It is not secret.
const Header = "qbo-oauth-token.v1"

// MinSecretLength is the shortest passphrase Serialize accepts, in characters.
const MinSecretLength = 32

var encoding = base64.StdEncoding.Strict()

type Codec struct {
	iterations int
	random     io.Reader
}

type Option func(*Codec)

// WithIterations overrides the PBKDF2 work factor. Tokens must be read back
// with the same value they were written with.
func WithIterations(n int) Option {
	return func(c *Codec) {
		c.iterations = n
	}
}

// WithRandom sets the source for IVs and salts.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.random = r
	}
}

func New(options ...Option) *Codec {
	c := &Codec{}
	for _, opt := range options {
		opt(c)
	}
	if c.iterations <= 0 {
		c.iterations = DefaultIterations
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	return c
}

var defaultCodec = New()

// Serialize encrypts t under secret with the default codec.
func Serialize(t *token.Token, secret string) (string, error) {
	return defaultCodec.Serialize(t, secret)
}

// Deserialize restores a token written by Serialize.
func Deserialize(serialized, secret string) (*token.Token, error) {
	return defaultCodec.Deserialize(serialized, secret)
}

// Serialize encrypts t under secret. A secret shorter than MinSecretLength is
// rejected before any other work.
func (c *Codec) Serialize(t *token.Token, secret string) (string, error) {
	if utf8.RuneCountInString(secret) < MinSecretLength {
		return "", token.ErrWeakSecretKey
	}
	if t == nil {
		return "", token.ErrNotAuthorized
	}

	plaintext, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "Codec.Serialize Marshal")
	}

	blob := make([]byte, ivSize+saltSize, ivSize+saltSize+len(plaintext)+tagSize)
	if _, err := io.ReadFull(c.random, blob); err != nil {
		return "", errors.Wrap(err, "Codec.Serialize random")
	}
	iv, salt := blob[:ivSize], blob[ivSize:]

	ciphertext, err := seal(deriveKey(secret, salt, c.iterations), iv, plaintext)
	if err != nil {
		return "", errors.Wrap(err, "Codec.Serialize seal")
	}
	blob = append(blob, ciphertext...)

	return encoding.EncodeToString([]byte(Header)) + ":" + encoding.EncodeToString(blob), nil
}

// Deserialize verifies and decrypts serialized. Every failure, including a
// wrong secret, is ErrInvalidSerializedToken and nothing is partially restored.
func (c *Codec) Deserialize(serialized, secret string) (*token.Token, error) {
	head, body, ok := strings.Cut(serialized, ":")
	if !ok {
		return nil, invalid("missing separator")
	}

	header, err := encoding.DecodeString(head)
	if err != nil || string(header) != Header {
		return nil, invalid("unrecognised header")
	}

	blob, err := encoding.DecodeString(body)
	if err != nil {
		return nil, invalid("malformed payload encoding")
	}
	if len(blob) < ivSize+saltSize+tagSize {
		return nil, invalid("payload too short")
	}
	iv, salt, ciphertext := blob[:ivSize], blob[ivSize:ivSize+saltSize], blob[ivSize+saltSize:]

	plaintext, err := open(deriveKey(secret, salt, c.iterations), iv, ciphertext)
	if err != nil {
		return nil, invalid("authentication failed")
	}

	var t token.Token
	if err := json.Unmarshal(plaintext, &t); err != nil {
		return nil, invalid("malformed token")
	}
	return &t, nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", token.ErrInvalidSerializedToken, reason)
}
