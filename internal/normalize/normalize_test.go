package normalize

import (
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "plain sentences",
			in:   "The first sentence here. The second sentence follows.",
			want: []string{"The first sentence here", " The second sentence follows."},
		},
		{
			name: "footnote numeral survives boundary",
			in:   "A claim was made.12 Next sentence starts.",
			want: []string{"A claim was made", "12 Next sentence starts."},
		},
		{
			name: "run of terminal punctuation",
			in:   "Is that so?! Yes it is.",
			want: []string{"Is that so", " Yes it is."},
		},
		{
			name: "no boundary before lowercase",
			in:   "e.g. something lowercase continues",
			want: []string{"e.g. something lowercase continues"},
		},
		{
			name: "no boundary without whitespace",
			in:   "version 2.Then more",
			want: []string{"version 2.Then more"},
		},
		{
			name: "empty input",
			in:   "",
			want: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("fragment %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "helloworld"},
		{"foot-note 12 marker", "footnotemarker"},
		{"ALLCAPS", "allcaps"},
		{"1234 5678", ""},
		{"Ünïcode Lettérs", "ünïcodelettérs"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSentencesCutoffAndOrder(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. Too short. Another long enough sentence for the index to keep around."
	sents := Sentences(text, 20)

	if len(sents) != 2 {
		t.Fatalf("got %d sentences, want 2 (short fragment dropped)", len(sents))
	}
	for i, s := range sents {
		if s.Position != i {
			t.Errorf("sentence %d has Position %d", i, s.Position)
		}
		if len(s.Bucket) != 5 || len(s.Sub) != 10 {
			t.Errorf("sentence %d has malformed fingerprint %q/%q", i, s.Bucket, s.Sub)
		}
		if strings.ContainsAny(s.Text, " .,!?") {
			t.Errorf("sentence %d not normalized: %q", i, s.Text)
		}
	}
}

func TestSentencesIdempotent(t *testing.T) {
	text := "Some reasonably long first sentence appears here. Followed by a second reasonably long sentence."
	first := Sentences(text, 20)

	for _, s := range first {
		again := Sentences(s.Text, 20)
		if len(again) != 1 {
			t.Fatalf("renormalizing %q gave %d sentences, want 1", s.Text, len(again))
		}
		if again[0].Text != s.Text {
			t.Errorf("renormalize changed text: %q -> %q", s.Text, again[0].Text)
		}
	}
}

func TestSentencesDefaultCutoff(t *testing.T) {
	// 19 letters: below the default cutoff.
	short := strings.Repeat("a", 19)
	if got := Sentences(short, 0); len(got) != 0 {
		t.Errorf("got %d sentences for 19-letter input with default cutoff, want 0", len(got))
	}
	long := strings.Repeat("a", 20)
	if got := Sentences(long, 0); len(got) != 1 {
		t.Errorf("got %d sentences for 20-letter input with default cutoff, want 1", len(got))
	}
}
