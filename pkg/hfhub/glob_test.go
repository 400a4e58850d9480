// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import "testing"

func TestPassesFilterAllowAndIgnore(t *testing.T) {
	allow := []string{"*.txt", "*.bin"}
	ignore := []string{".*"}

	cases := map[string]bool{
		"a.txt":          true,
		"checkpoints/b.bin": true,
		".hidden":        false, // matches ignore
		"c.json":         false, // matches no allow pattern
	}
	for path, want := range cases {
		if got := passesFilter(allow, ignore, path); got != want {
			t.Errorf("passesFilter(%v, %v, %q) = %v, want %v", allow, ignore, path, got, want)
		}
	}
}

func TestPassesFilterNoAllowListMeansUnconstrained(t *testing.T) {
	if !passesFilter(nil, nil, "anything/goes.here") {
		t.Fatal("expected no-allow-list to mean unconstrained")
	}
}

func TestExpandTrailingSlash(t *testing.T) {
	re, err := globToRegexp(expandTrailingSlash("data/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !re.MatchString("data/file.bin") {
		t.Error("expected trailing-slash pattern to match a file under that directory")
	}
	if re.MatchString("other/file.bin") {
		t.Error("did not expect the pattern to match an unrelated directory")
	}
}

func TestGlobToRegexpQuestionMark(t *testing.T) {
	re, err := globToRegexp("model-?.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !re.MatchString("model-1.bin") || re.MatchString("model-12.bin") {
		t.Errorf("? should match exactly one character")
	}
}

func TestGlobToRegexpCharacterClass(t *testing.T) {
	re, err := globToRegexp("q[45]_k_m.gguf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !re.MatchString("q4_k_m.gguf") || !re.MatchString("q5_k_m.gguf") || re.MatchString("q6_k_m.gguf") {
		t.Errorf("character class did not constrain the match as expected")
	}
}
