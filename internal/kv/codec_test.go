package kv

import (
	"reflect"
	"testing"
)

func TestHashRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"empty", map[string]string{}},
		{"single", map[string]string{"bs": "17"}},
		{"mixed", map[string]string{"bs": "3", "c12": "2", "m99": "1", "": "empty field name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHash(EncodeHash(tt.fields))
			if err != nil {
				t.Fatalf("DecodeHash: %v", err)
			}
			if !reflect.DeepEqual(got, tt.fields) {
				t.Errorf("round trip = %v, want %v", got, tt.fields)
			}
		})
	}
}

func TestHashEncodingDeterministic(t *testing.T) {
	fields := map[string]string{"c1": "1", "c2": "2", "m3": "1", "bs": "1"}
	a := EncodeHash(fields)
	for i := 0; i < 10; i++ {
		if b := EncodeHash(fields); string(a) != string(b) {
			t.Fatal("EncodeHash is not deterministic")
		}
	}
}

func TestStringsRoundTrip(t *testing.T) {
	tests := [][]string{
		{},
		{"1"},
		{"1", "5", "42", ""},
	}
	for _, elems := range tests {
		got, err := DecodeStrings(EncodeStrings(elems))
		if err != nil {
			t.Fatalf("DecodeStrings(%v): %v", elems, err)
		}
		if len(got) != len(elems) {
			t.Fatalf("round trip of %v = %v", elems, got)
		}
		for i := range elems {
			if got[i] != elems[i] {
				t.Errorf("element %d = %q, want %q", i, got[i], elems[i])
			}
		}
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := DecodeHash([]byte{}); err == nil {
		t.Error("DecodeHash of empty payload should fail")
	}
	if _, err := DecodeHash([]byte{2, 1, 'a'}); err == nil {
		t.Error("DecodeHash of truncated payload should fail")
	}
	if _, err := DecodeStrings(append(EncodeStrings([]string{"x"}), 0)); err == nil {
		t.Error("DecodeStrings with trailing bytes should fail")
	}
}
