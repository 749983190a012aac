package kv

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Hashes, sets and lists are stored as single values so that optimistic
// conflict detection works at the granularity of one logical key. The
// encoding is a uvarint element count followed by length-prefixed strings;
// hashes interleave field and value strings.

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(p []byte) (string, []byte, error) {
	n, w := binary.Uvarint(p)
	if w <= 0 {
		return "", nil, fmt.Errorf("kv: truncated string header")
	}
	p = p[w:]
	if uint64(len(p)) < n {
		return "", nil, fmt.Errorf("kv: truncated string body")
	}
	return string(p[:n]), p[n:], nil
}

// EncodeStrings encodes an ordered list of strings.
func EncodeStrings(elems []string) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(elems)))
	for _, e := range elems {
		buf = appendString(buf, e)
	}
	return buf
}

// DecodeStrings decodes a value written by EncodeStrings.
func DecodeStrings(p []byte) ([]string, error) {
	n, w := binary.Uvarint(p)
	if w <= 0 {
		return nil, fmt.Errorf("kv: truncated element count")
	}
	p = p[w:]
	elems := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		var (
			s   string
			err error
		)
		s, p, err = readString(p)
		if err != nil {
			return nil, err
		}
		elems = append(elems, s)
	}
	if len(p) != 0 {
		return nil, fmt.Errorf("kv: %d trailing bytes after %d elements", len(p), n)
	}
	return elems, nil
}

// EncodeHash encodes a field map. Fields are written in sorted order so the
// encoding is deterministic.
func EncodeHash(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := binary.AppendUvarint(nil, uint64(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, fields[k])
	}
	return buf
}

// DecodeHash decodes a value written by EncodeHash.
func DecodeHash(p []byte) (map[string]string, error) {
	n, w := binary.Uvarint(p)
	if w <= 0 {
		return nil, fmt.Errorf("kv: truncated field count")
	}
	p = p[w:]
	fields := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		var (
			k, v string
			err  error
		)
		k, p, err = readString(p)
		if err != nil {
			return nil, err
		}
		v, p, err = readString(p)
		if err != nil {
			return nil, err
		}
		fields[k] = v
	}
	if len(p) != 0 {
		return nil, fmt.Errorf("kv: %d trailing bytes after %d fields", len(p), n)
	}
	return fields, nil
}
