// Package resource implements the tenant-resource aggregate: creation with
// derived status credentials, merge-patch updates, deletion, and annotated
// listings.
package resource

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/demeter-run/fabric-sub000/internal/metadata"
	"github.com/demeter-run/fabric-sub000/internal/secret"
)

const (
	nameRandLen      = 6
	nameRandAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	derivedKeyLen = 8
	deriveSaltLen = 16
)

// NewResourceName generates a candidate name for a resource of the given
// kind: the lowercased kind minus any trailing "port", a dash, and six random
// lowercase alphanumerics. "CardanoNodePort" → "cardanonode-x3k9p2".
func NewResourceName(kind string) (string, error) {
	buf := make([]byte, nameRandLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("resource name: %w", err)
	}
	for i, b := range buf {
		buf[i] = nameRandAlphabet[int(b)%len(nameRandAlphabet)]
	}
	return metadata.KindResourceName(kind) + "-" + string(buf), nil
}

// deriveKey stretches project and resource ids into an 8-byte credential
// seed. The salt is fresh per call, so every derived field gets independent
// material even within one resource.
func deriveKey(projectID, resourceID string) ([]byte, error) {
	salt := make([]byte, deriveSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("derive salt: %w", err)
	}
	return argon2.IDKey([]byte(projectID+resourceID), salt, 1, 64*1024, 4, derivedKeyLen), nil
}

// DeriveStatusValue produces the value injected for one recognised status
// property. authToken and username are bech32m strings under the kind's HRP;
// password is unpadded base64. Unrecognised properties derive nothing.
func DeriveStatusValue(property, kind, projectID, resourceID string) (string, bool, error) {
	switch property {
	case "authToken", "username":
		key, err := deriveKey(projectID, resourceID)
		if err != nil {
			return "", false, err
		}
		enc, err := secret.EncodeBech32(metadata.KindResourceName(kind), key)
		if err != nil {
			return "", false, err
		}
		return enc, true, nil
	case "password":
		key, err := deriveKey(projectID, resourceID)
		if err != nil {
			return "", false, err
		}
		return base64.RawStdEncoding.EncodeToString(key), true, nil
	default:
		return "", false, nil
	}
}
