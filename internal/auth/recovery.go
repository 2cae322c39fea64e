// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/samber/oops"
)

// RecoveryCodeBytes is the entropy of a recovery code. 16 bytes encode to a
// 22 character URL-safe string.
const RecoveryCodeBytes = 16

// GenerateRecoveryCode creates a random URL-safe recovery code and its hash.
// The plaintext code is mailed to the user; only the hash is stored.
func GenerateRecoveryCode() (code, hash string, err error) {
	buf := make([]byte, RecoveryCodeBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("RECOVERY_CODE_GENERATE_FAILED").Wrap(err)
	}

	code = base64.RawURLEncoding.EncodeToString(buf)
	return code, HashRecoveryCode(code), nil
}

// HashRecoveryCode returns the hex SHA-256 digest stored for a code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyRecoveryCode checks a plaintext code against a stored hash in constant time.
func VerifyRecoveryCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashRecoveryCode(code)), []byte(hash)) == 1
}
