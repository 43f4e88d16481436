package names

import (
	"reflect"
	"testing"
)

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jiří", "Jiri"},
		{"Müller", "Muller"},
		{"Gündoğan", "Gundogan"},
		{"José María", "Jose Maria"},
		{"plain", "plain"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := RemoveDiacritics(tc.input); got != tc.expected {
				t.Errorf("RemoveDiacritics(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"simple", "Sergio Ramos", []string{"sergio", "ramos"}},
		{"diacritics and case", "José MARÍA Giménez", []string{"jose", "maria", "gimenez"}},
		{"hyphen and apostrophe", "Jean-Pierre O'Neill", []string{"jean", "pierre", "o", "neill"}},
		{"particles removed", "Kevin De Bruyne", []string{"kevin", "bruyne"}},
		{"suffix removed", "Ken Griffey Jr.", []string{"ken", "griffey"}},
		{"roman numeral removed", "John Smith III", []string{"john", "smith"}},
		{"numeric tokens removed", "Adriana Nanclares 250178426", []string{"adriana", "nanclares"}},
		{"underscores", "Adriana_Nanclares", []string{"adriana", "nanclares"}},
		{"empty", "", []string{}},
		{"only separators", " -_._ ", []string{}},
		{"only numbers", "123 456", []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.input)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Normalize(%q) = %v; want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestSimilarity_OrderIndependent(t *testing.T) {
	a := Similarity("Sergio Ramos", "Ramos Sergio")
	if a != 1 {
		t.Errorf("expected reversed name to score 1.0, got %f", a)
	}
}

func TestSimilarity_DisjointNames(t *testing.T) {
	s := Similarity("Sergio Ramos", "Jan Oblak")
	if s > 0.3 {
		t.Errorf("disjoint names should score low, got %f", s)
	}
}

func TestSimilarity_SubsetName(t *testing.T) {
	s := Similarity("Jose Maria Gimenez", "Jose Gimenez")
	if s < 0.7 {
		t.Errorf("subset name should score high, got %f", s)
	}
}

func TestSimilarity_SpellingVariant(t *testing.T) {
	s := Similarity("Ilkay Gundogan", "Ilkay Guendogan")
	if s < 0.8 {
		t.Errorf("close spelling variant should score high, got %f", s)
	}
}

func TestSimilarity_DiacriticsIgnored(t *testing.T) {
	if s := Similarity("José María", "Jose Maria"); s != 1 {
		t.Errorf("diacritics should not affect similarity, got %f", s)
	}
}

func TestSimilarity_Empty(t *testing.T) {
	if s := Similarity("", "Sergio Ramos"); s != 0 {
		t.Errorf("empty name should score 0, got %f", s)
	}
}

func TestSimilarity_Range(t *testing.T) {
	pairs := [][2]string{
		{"Sergio Ramos", "Sergio Ramos Garcia"},
		{"A", "B"},
		{"Jan Oblak", "Jan Oblak"},
		{"Kylian Mbappe", "Kiki Mbappe Lottin"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		if s < 0 || s > 1 {
			t.Errorf("Similarity(%q, %q) = %f out of [0,1]", p[0], p[1], s)
		}
	}
}
