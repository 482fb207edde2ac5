// Package secret issues and verifies project API keys. A key is 16 random
// alphanumeric characters handed to the caller exactly once, bech32m-encoded
// under the dmtr_apikey HRP. What gets persisted is an Argon2id PHC string
// over the HMAC of the key with a project pepper — never the clear key.
//
// The pepper stands in for Argon2's native secret parameter: the clear key
// is HMAC-SHA256'd with the pepper before hashing. The construction is fixed;
// changing it would orphan every stored PHC.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/argon2"
)

// KeyHRP is the bech32 human-readable prefix of every Fabric API key.
const KeyHRP = "dmtr_apikey"

const (
	keyLength   = 16
	keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// GenerateKey produces a 16-char alphanumeric clear-text key.
func GenerateKey() (string, error) {
	buf := make([]byte, keyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(buf), nil
}

// EncodeBech32 wraps payload bytes as bech32m under the given HRP.
func EncodeBech32(hrp string, payload []byte) (string, error) {
	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	enc, err := bech32.EncodeM(hrp, conv)
	if err != nil {
		return "", fmt.Errorf("bech32m encode: %w", err)
	}
	return enc, nil
}

// DecodeBech32 decodes a bech32m string and enforces the expected HRP.
func DecodeBech32(expectedHRP, s string) ([]byte, error) {
	hrp, data, version, err := bech32.DecodeGeneric(s)
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	if version != bech32.VersionM {
		return nil, fmt.Errorf("not a bech32m string")
	}
	if hrp != expectedHRP {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("convert bits: %w", err)
	}
	return payload, nil
}

// pepperedDigest is the fixed pre-hash construction.
func pepperedDigest(clearKey, pepper []byte) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write(clearKey)
	return mac.Sum(nil)
}

// HashKey computes the Argon2id PHC string for a clear key under a pepper.
func HashKey(clearKey, pepper []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := pepperedDigest(clearKey, pepper)
	hash := argon2.IDKey(digest, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyKey checks a clear key against a PHC string using the stored pepper.
// The comparison is constant time; parse failures simply verify false.
func VerifyKey(phc string, clearKey, pepper []byte) bool {
	parts := strings.Split(phc, "$")
	// ["", "argon2id", "v=19", "m=...,t=...,p=...", salt, hash]
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	digest := pepperedDigest(clearKey, pepper)
	got := argon2.IDKey(digest, salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
