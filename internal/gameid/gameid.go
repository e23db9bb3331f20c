// Package gameid generates the opaque identifiers and capability tokens used
// across the server: short sortable game IDs, per-seat tokens, and the nonces
// appended to replay evaluation session IDs.
package gameid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Crockford's base32 alphabet. IDs sort by creation time because the UUIDv7
// timestamp occupies the high bits.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

const idLen = 26

// New returns a fresh game ID: a UUIDv7 encoded as a 26-character base32
// string. IDs are URL-safe and lexicographically ordered by creation time.
func New() string {
	id := uuid.Must(uuid.NewV7())
	return encodeBase32(id)
}

// NewToken returns a 128-bit capability token as 32 hex characters. Tokens
// gate seat ownership and are never derivable from the game ID.
func NewToken() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("gameid: read random: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

// NewNonce returns a short random base32 string, used to make replay
// evaluation session IDs unique per subscriber.
func NewNonce() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("gameid: read random: " + err.Error())
	}
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = alphabet[b&31]
	}
	return string(out)
}

// encodeBase32 packs the 128-bit UUID into 26 base32 characters, 5 bits per
// character, high bits first.
func encodeBase32(id uuid.UUID) string {
	out := make([]byte, idLen)
	for i := 0; i < idLen; i++ {
		off := i * 5
		byteIdx := off / 8
		bitIdx := off % 8

		var v uint8
		if byteIdx < 16 {
			if bitIdx <= 3 {
				v = (id[byteIdx] >> (3 - bitIdx)) & 0x1f
			} else {
				v = (id[byteIdx] << (bitIdx - 3)) & 0x1f
				if byteIdx+1 < 16 {
					v |= id[byteIdx+1] >> (11 - bitIdx)
				}
			}
		}
		out[i] = alphabet[v]
	}
	return string(out)
}

// Validate reports whether id has the shape produced by New.
func Validate(id string) error {
	if len(id) != idLen {
		return fmt.Errorf("game ID must be exactly %d characters, got %d", idLen, len(id))
	}
	// The leading character carries the top 5 bits of a 128-bit value padded
	// to 130, so it can never exceed '7'.
	if id[0] > '7' {
		return fmt.Errorf("game ID first character must be 0-7, got %c", id[0])
	}
	for i, c := range id {
		if !validChar(c) {
			return fmt.Errorf("invalid character %c at position %d", c, i)
		}
	}
	return nil
}

func validChar(c rune) bool {
	for _, a := range alphabet {
		if c == a {
			return true
		}
	}
	return false
}
