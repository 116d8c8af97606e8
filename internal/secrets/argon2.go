package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Keys hashed before a parameter bump are detected by
// NeedsRehash and re-hashed transparently on the next successful verify.
const (
	hashTime    = 3
	hashMemory  = 64 * 1024
	hashThreads = 4
	hashKeyLen  = 32
	saltLen     = 16
)

var errMalformedHash = errors.New("secrets: malformed argon2 hash")

// Hash derives an Argon2id hash of secret and encodes it in the PHC string
// format, salt included.
func Hash(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate argon2 salt failed")
	}
	key := argon2.IDKey([]byte(secret), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemory, hashTime, hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// Verify reports whether secret matches the PHC-encoded hash. The comparison
// of derived keys is constant-time.
func Verify(encoded, secret string) (bool, error) {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	derived := argon2.IDKey([]byte(secret), salt, params.time, params.memory, params.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

// NeedsRehash reports whether the hash was produced with parameters weaker
// than the current defaults and should be regenerated.
func NeedsRehash(encoded string) bool {
	params, _, key, err := decode(encoded)
	if err != nil {
		return true
	}
	return params.version < argon2.Version ||
		params.memory < hashMemory ||
		params.time < hashTime ||
		params.threads < hashThreads ||
		len(key) < hashKeyLen
}

type hashParams struct {
	version uint32
	memory  uint32
	time    uint32
	threads uint8
}

func decode(encoded string) (hashParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// Leading "$" yields an empty first element.
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return hashParams{}, nil, nil, errMalformedHash
	}
	var params hashParams
	if _, err := fmt.Sscanf(parts[2], "v=%d", &params.version); err != nil {
		return hashParams{}, nil, nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return hashParams{}, nil, nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return hashParams{}, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return hashParams{}, nil, nil, errMalformedHash
	}
	return params, salt, key, nil
}
