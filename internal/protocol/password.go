package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// PasswordSize is the length of a BAM password in bytes.
const PasswordSize = 8

// Password is the 8-byte BAM password. Bytes are sent in index order, which
// is big-endian order of the 64-bit value.
type Password [PasswordSize]byte

// DefaultPassword is the MPC5646 public password 0xFEEDFACECAFEBEEF.
var DefaultPassword = PasswordFromUint64(0xFEEDFACECAFEBEEF)

// PasswordFromUint64 converts a 64-bit value to a password, most significant
// byte first.
func PasswordFromUint64(v uint64) Password {
	var p Password
	binary.BigEndian.PutUint64(p[:], v)
	return p
}

// ParsePassword parses a password given as exactly 16 hex digits, with an
// optional 0x prefix (e.g. "FEEDFACECAFEBEEF" or "0xfeedfacecafebeef").
func ParsePassword(s string) (Password, error) {
	var p Password

	digits := strings.TrimSpace(s)
	digits = strings.TrimPrefix(strings.TrimPrefix(digits, "0x"), "0X")
	if len(digits) != 2*PasswordSize {
		return p, fmt.Errorf("password must be %d hex digits (8 bytes), got %d", 2*PasswordSize, len(digits))
	}

	raw, err := hex.DecodeString(digits)
	if err != nil {
		return p, fmt.Errorf("password is not valid hex: %w", err)
	}
	copy(p[:], raw)
	return p, nil
}

// Uint64 returns the password as a 64-bit value.
func (p Password) Uint64() uint64 {
	return binary.BigEndian.Uint64(p[:])
}

// String returns the password as 16 upper-case hex digits.
func (p Password) String() string {
	return strings.ToUpper(hex.EncodeToString(p[:]))
}
