package identity

import (
	"math/rand/v2"
	"strings"
	"testing"
)

func TestAssignColorSkipsAssigned(t *testing.T) {
	palette := []string{"red", "blue", "green"}
	if got := AssignColor(palette, []string{"red", "blue"}); got != "green" {
		t.Fatalf("expected green, got %q", got)
	}
	if got := AssignColor(palette, nil); got != "red" {
		t.Fatalf("expected red, got %q", got)
	}
	if got := AssignColor(palette, []string{"", "purple", "red"}); got != "blue" {
		t.Fatalf("expected unknown colors to be ignored, got %q", got)
	}
}

func TestAssignColorReusesLeastUsed(t *testing.T) {
	palette := []string{"red", "blue", "green"}
	cases := []struct {
		assigned []string
		want     string
	}{
		{[]string{"red", "blue", "green"}, "red"},
		{[]string{"red", "blue", "green", "red"}, "blue"},
		{[]string{"red", "blue", "green", "red", "blue"}, "green"},
		{[]string{"red", "red", "blue", "green", "green"}, "blue"},
	}
	for _, tc := range cases {
		if got := AssignColor(palette, tc.assigned); got != tc.want {
			t.Errorf("AssignColor(%v) = %q, want %q", tc.assigned, got, tc.want)
		}
	}
}

func TestAssignColorEmptyPalette(t *testing.T) {
	if got := AssignColor(nil, []string{"red"}); got != "" {
		t.Fatalf("expected empty color, got %q", got)
	}
}

func TestNameGeneratorIsSeedable(t *testing.T) {
	a := NewNameGenerator(rand.New(rand.NewPCG(1, 2)))
	b := NewNameGenerator(rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 5; i++ {
		na, nb := a.Generate(), b.Generate()
		if na != nb {
			t.Fatalf("expected identical sequences, got %q and %q", na, nb)
		}
		parts := strings.Split(na, " ")
		if len(parts) != 2 {
			t.Fatalf("expected two words, got %q", na)
		}
		for _, p := range parts {
			if p[:1] != strings.ToUpper(p[:1]) {
				t.Fatalf("expected title case, got %q", na)
			}
		}
	}
	if GenerateUniqueName() == "" {
		t.Fatal("expected a generated name")
	}
}

func TestIdentityDisplay(t *testing.T) {
	gen := NewNameGenerator(rand.New(rand.NewPCG(3, 4)))

	user := &Identity{ID: "u1", Name: "Ada", Picture: "https://img/ada.png"}
	if user.DisplayName(gen) != "Ada" || user.PictureURL() != "https://img/ada.png" {
		t.Fatalf("unexpected display for authenticated user")
	}

	anon := &Identity{ID: "u2", Name: "Anonymous", Picture: "https://img/x.png", IsAnonymous: true}
	if anon.DisplayName(gen) == "Anonymous" || anon.PictureURL() != "" {
		t.Fatalf("anonymous identities must get a generated name and no picture")
	}

	var none *Identity
	if none.DisplayName(nil) == "" || none.PictureURL() != "" {
		t.Fatalf("unexpected display for missing identity")
	}
}
