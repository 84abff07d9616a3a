package linking

import "testing"

func TestNormalizeName(t *testing.T) {
	// WHAT: Diacritics, case and whitespace differences normalize away.
	// WHY: The same buyer shows up as "José", "JOSE " and "jose" across
	// channels.
	cases := []struct{ in, want string }{
		{"José García", "jose garcia"},
		{"  ANNA   PETROVA ", "anna petrova"},
		{"Ёлка", "елка"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTokensDropShortWords(t *testing.T) {
	// WHAT: Tokens under 3 runes are dropped; punctuation splits words.
	// WHY: "is", "a", "ok" dominate overlap counts without carrying meaning.
	got := Tokens("Is the jacket OK? Delivery, please!")
	want := []string{"the", "jacket", "delivery", "please"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for _, w := range want {
		if !got[w] {
			t.Fatalf("missing token %q in %v", w, got)
		}
	}
}
