package replica

import (
	"encoding/base32"
	"encoding/binary"
	"hash/crc32"
	"strconv"
	"strings"
)

// ActorID identifies an installed actor. IDs start at 1; the zero value
// never names an actor.
type ActorID uint64

// AnonymousPrincipal is the default caller of every message.
var AnonymousPrincipal = []byte{0x04}

// Principal returns the 10-byte canister principal for the id: the id in
// big-endian followed by the opaque-id suffix.
func (id ActorID) Principal() []byte {
	p := make([]byte, 10)
	binary.BigEndian.PutUint64(p, uint64(id))
	p[8], p[9] = 0x01, 0x01
	return p
}

// String returns the textual principal, e.g. "rrkah-fqaaa-aaaaa-aaaaq-cai"
// for id 1.
func (id ActorID) String() string {
	if id == 0 {
		return "actor(0)"
	}
	return PrincipalText(id.Principal())
}

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// PrincipalText renders principal bytes in the dash-grouped, CRC-prefixed
// base32 form.
func PrincipalText(p []byte) string {
	buf := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p))
	copy(buf[4:], p)
	enc := strings.ToLower(principalEncoding.EncodeToString(buf))

	var b strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(enc[i:min(i+5, len(enc))])
	}
	return b.String()
}

// ParseActorID parses a textual canister principal or a decimal id.
func ParseActorID(s string) (ActorID, bool) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil && n > 0 {
		return ActorID(n), true
	}
	raw, err := principalEncoding.DecodeString(strings.ToUpper(strings.ReplaceAll(s, "-", "")))
	if err != nil || len(raw) != 14 {
		return 0, false
	}
	p := raw[4:]
	if binary.BigEndian.Uint32(raw) != crc32.ChecksumIEEE(p) || p[8] != 0x01 || p[9] != 0x01 {
		return 0, false
	}
	id := ActorID(binary.BigEndian.Uint64(p))
	return id, id != 0
}
