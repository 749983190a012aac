package types

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	// BucketKeyLen is the hex length of a sentence shard key (top 20 bits
	// of the MD5 digest).
	BucketKeyLen = 5

	// SubKeyLen is the hex length of the in-shard discriminator (the next
	// 40 bits of the digest).
	SubKeyLen = 10

	// OccurrenceSize is the packed size of one occurrence record:
	// subKey(5) + cardID(4, big-endian) + sentenceIndex(2, big-endian).
	OccurrenceSize = 11
)

// Sentence is one normalized sentence of a card, carrying its fingerprint
// and its position in the card's normalized sequence.
type Sentence struct {
	Text     string
	Bucket   string // 5 hex chars, selects the shard
	Sub      string // 10 hex chars, disambiguates within the shard
	Position int
}

// NewSentence fingerprints a normalized sentence. The MD5 digest is split:
// the top 20 bits become the shard bucket key, the next 40 bits the sub key,
// and the remainder is discarded. Sub-key collisions are tolerated because
// the matcher re-validates candidates by positional overlap.
func NewSentence(text string, position int) Sentence {
	sum := md5.Sum([]byte(text))
	h := hex.EncodeToString(sum[:8])
	return Sentence{
		Text:     text,
		Bucket:   h[:BucketKeyLen],
		Sub:      h[BucketKeyLen : BucketKeyLen+SubKeyLen],
		Position: position,
	}
}

// Occurrence records that a sentence with the given sub key appears in a
// card at a sentence index.
type Occurrence struct {
	Sub   string // 10 hex chars
	Card  CardID
	Index uint16
}

// Pack appends the 11-byte wire form of the occurrence to dst.
func (o Occurrence) Pack(dst []byte) ([]byte, error) {
	sub, err := hex.DecodeString(o.Sub)
	if err != nil || len(sub) != SubKeyLen/2 {
		return nil, fmt.Errorf("invalid sub key %q", o.Sub)
	}
	dst = append(dst, sub...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(o.Card))
	dst = binary.BigEndian.AppendUint16(dst, o.Index)
	return dst, nil
}

// ParseOccurrences decodes a shard payload into occurrence records. The
// payload must be a whole number of 11-byte records.
func ParseOccurrences(p []byte) ([]Occurrence, error) {
	if len(p)%OccurrenceSize != 0 {
		return nil, fmt.Errorf("shard payload length %d is not a multiple of %d", len(p), OccurrenceSize)
	}
	occs := make([]Occurrence, 0, len(p)/OccurrenceSize)
	for i := 0; i < len(p); i += OccurrenceSize {
		rec := p[i : i+OccurrenceSize]
		occs = append(occs, Occurrence{
			Sub:   hex.EncodeToString(rec[:5]),
			Card:  CardID(binary.BigEndian.Uint32(rec[5:9])),
			Index: binary.BigEndian.Uint16(rec[9:11]),
		})
	}
	return occs, nil
}
