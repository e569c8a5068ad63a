package types

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidULIDLength    = errors.New("invalid ULID length")
	ErrInvalidULIDCharacter = errors.New("invalid ULID character")
)

// ULID is a lexicographically sortable identifier: a 48-bit millisecond
// timestamp followed by 80 random bits. Incremental staging files are named
// with ULIDs so that listing order equals write order.
type ULID [16]byte

const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDGenerator produces ULIDs that increase monotonically, also within
// a single millisecond.
type ULIDGenerator struct {
	mu         sync.Mutex
	lastMillis uint64
	lastRandom [10]byte
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate creates a ULID for the current time.
func (g *ULIDGenerator) Generate() (ULID, error) {
	return g.GenerateWithTime(time.Now())
}

// GenerateWithTime creates a ULID for t. A t not after the previous
// call's timestamp reuses it and bumps the random part.
func (g *ULIDGenerator) GenerateWithTime(t time.Time) (ULID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(t.UnixMilli())
	if ms <= g.lastMillis && g.lastMillis != 0 {
		ms = g.lastMillis
		for i := len(g.lastRandom) - 1; i >= 0; i-- {
			g.lastRandom[i]++
			if g.lastRandom[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return ULID{}, err
		}
		g.lastMillis = ms
	}

	var u ULID
	for i := 0; i < 6; i++ {
		u[i] = byte(ms >> (40 - 8*i))
	}
	copy(u[6:], g.lastRandom[:])
	return u, nil
}

// Timestamp returns the Unix millisecond component.
func (u ULID) Timestamp() uint64 {
	var ms uint64
	for i := 0; i < 6; i++ {
		ms = ms<<8 | uint64(u[i])
	}
	return ms
}

// Compare orders two ULIDs byte-wise.
func (u ULID) Compare(other ULID) int {
	for i := range u {
		switch {
		case u[i] < other[i]:
			return -1
		case u[i] > other[i]:
			return 1
		}
	}
	return 0
}

// String encodes the ULID as 26 Crockford base32 characters.
func (u ULID) String() string {
	var buf [26]byte
	// 130 bits of output for 128 bits of input: the two leading bits are zero.
	for i := 0; i < 26; i++ {
		bit := i*5 - 2
		var v byte
		for j := 0; j < 5; j++ {
			b := bit + j
			v <<= 1
			if b >= 0 && u[b/8]&(0x80>>(b%8)) != 0 {
				v |= 1
			}
		}
		buf[i] = crockfordBase32[v]
	}
	return string(buf[:])
}

// ParseULID decodes a 26-character Crockford base32 string.
func ParseULID(s string) (ULID, error) {
	var u ULID
	if len(s) != 26 {
		return u, ErrInvalidULIDLength
	}
	for i := 0; i < 26; i++ {
		v := decodeBase32(s[i])
		if v == 0xFF {
			return ULID{}, ErrInvalidULIDCharacter
		}
		if i == 0 && v > 7 {
			return ULID{}, ErrInvalidULIDCharacter
		}
		for j := 0; j < 5; j++ {
			b := i*5 - 2 + j
			if b < 0 {
				continue
			}
			if v&(0x10>>j) != 0 {
				u[b/8] |= 0x80 >> (b % 8)
			}
		}
	}
	return u, nil
}

func decodeBase32(c byte) byte {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < len(crockfordBase32); i++ {
		if crockfordBase32[i] == c {
			return byte(i)
		}
	}
	return 0xFF
}
