// Package wire frames cached payloads with the metadata the policy layer
// needs to judge freshness: the write timestamp and the entry TTL.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt         = errors.New("swrcache: corrupt entry")
	ErrPayloadTooLarge = errors.New("swrcache: payload exceeds frame limit")

	magic4 = [...]byte{'S', 'W', 'R', 'C'}
)

// MaxPayload is the largest payload the u32 length prefix can frame.
const MaxPayload = math.MaxUint32

// Entry is the decoded envelope. StoredAt has millisecond precision on the
// wire; TTL is stored as whole milliseconds.
type Entry struct {
	StoredAt time.Time
	TTL      time.Duration
	Payload  []byte
}

// Age reports how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.StoredAt) }

// Expired reports whether the entry is past its hard TTL.
func (e Entry) Expired(now time.Time) bool { return e.Age(now) >= e.TTL }

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

const header = 4 + 1 + 1 + 8 + 8 + 4

func payloadFits(n uint64) bool { return n <= MaxPayload }

// Encode frames an entry:
//
//	magic(4) | ver(1) | kind(1) | storedAt unix-milli (u64 be) | ttl ms (u64 be) | vlen(u32 be) | payload(vlen)
//
// Payloads longer than MaxPayload cannot be framed and return
// ErrPayloadTooLarge instead of a truncated length prefix.
func Encode(e Entry) ([]byte, error) {
	if !payloadFits(uint64(len(e.Payload))) {
		return nil, ErrPayloadTooLarge
	}

	var buf bytes.Buffer
	buf.Grow(header + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.StoredAt.UnixMilli()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.TTL.Milliseconds()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// Decode parses a framed entry. Framing is strict: short buffers, wrong
// magic/version/kind and trailing bytes are all ErrCorrupt.
func Decode(b []byte) (Entry, error) {
	if len(b) < header || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6

	storedAtMs := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	ttlMs := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || off+vlen != len(b) {
		return Entry{}, ErrCorrupt
	}

	return Entry{
		StoredAt: time.UnixMilli(int64(storedAtMs)),
		TTL:      time.Duration(ttlMs) * time.Millisecond,
		Payload:  b[off : off+vlen],
	}, nil
}
