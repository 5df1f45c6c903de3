package normalize

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		spaced  string
		compact string
	}{
		{"", "", ""},
		{"   ", "", ""},
		{"José", "jose", "jose"},
		{"João_Silva", "joao silva", "joaosilva"},
		{"JOÃO SILVA", "joao silva", "joaosilva"},
		{"  María   José López ", "maria jose lopez", "mariajoselopez"},
		{"Alícia_Araújo.png", "alicia araujo", "aliciaaraujo"},
		{"Ana Costa.PDF", "ana costa", "anacosta"},
		{"Conceição\nde Souza", "conceicao de souza", "conceicaodesouza"},
		{"d'Ávila, Pedro", "davila pedro", "davilapedro"},
		{"joao__silva", "joao silva", "joaosilva"},
		{"?!.", "", ""},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		if got.Spaced != tt.spaced || got.Compact != tt.compact {
			t.Fatalf("Normalize(%q) = %+v, want (%q, %q)", tt.in, got, tt.spaced, tt.compact)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "José", "João_Silva", "İstanbul Öz", "ÅSA ØRSTED", "Nome do aluno: Maria",
		"file name.pdf.pdf", "a_ _b", "ﬁnal Ǆ", "Ñandú Pérez", "x̧́y",
	}
	for _, in := range inputs {
		first := Normalize(in)
		second := Normalize(first.Spaced)
		if first != second {
			t.Fatalf("Normalize not idempotent for %q: %+v then %+v", in, first, second)
		}
	}
}

func TestNormalizeAccentsExact(t *testing.T) {
	if Normalize("José") != Normalize("Jose") {
		t.Fatalf("accent stripping should make José and Jose equal")
	}
	a, b, c := Normalize("João_Silva"), Normalize("joao silva"), Normalize("JOÃO SILVA")
	if a.Spaced != b.Spaced || b.Spaced != c.Spaced {
		t.Fatalf("separator/case variants differ: %q %q %q", a.Spaced, b.Spaced, c.Spaced)
	}
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"José da Silva.pdf": "Jose da Silva",
		"María_López":       "Maria_Lopez",
		"  Ana\t\tCosta  ":  "Ana Costa",
		"":                  "",
	}
	for in, want := range tests {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchKeyIsZero(t *testing.T) {
	if !Normalize("").IsZero() {
		t.Fatalf("empty input should give zero key")
	}
	if Normalize("a").IsZero() {
		t.Fatalf("non-empty input should not give zero key")
	}
}
