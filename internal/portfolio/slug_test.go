package portfolio

import (
	"context"
	"errors"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"John Doe":             "john-doe",
		"  Crème Brûlée  ":     "creme-brulee",
		"a--b  c":              "a-b-c",
		"user_name-FIRST-Last": "user_name-first-last",
		"---":                  "",
		"日本語":                  "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBaseSlugDefaults(t *testing.T) {
	if got := BaseSlug("alice", "", ""); got != "alice-user-portfolio" {
		t.Fatalf("BaseSlug = %q", got)
	}
	if got := BaseSlug("alice", "Alice", "Smith"); got != "alice-alice-smith" {
		t.Fatalf("BaseSlug = %q", got)
	}
}

func TestGenerateSlugAppendsCounter(t *testing.T) {
	taken := map[string]bool{"bob-user-portfolio": true, "bob-user-portfolio-1": true}
	got, err := GenerateSlug(context.Background(), "bob-user-portfolio", func(_ context.Context, s string) (bool, error) {
		return taken[s], nil
	})
	if err != nil {
		t.Fatalf("GenerateSlug: %v", err)
	}
	if got != "bob-user-portfolio-2" {
		t.Fatalf("slug = %q", got)
	}
}

func TestGenerateSlugPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := GenerateSlug(context.Background(), "x", func(context.Context, string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
