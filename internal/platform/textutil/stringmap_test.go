package textutil

import (
	"reflect"
	"testing"
)

func TestCleanString(t *testing.T) {
	if got := CleanString("  walnut  "); got != "walnut" {
		t.Fatalf("expected trimmed string, got %q", got)
	}
	// "é" as combining sequence collapses to the precomposed form.
	if got := CleanString("café"); got != "café" {
		t.Fatalf("expected NFC form, got %q", got)
	}
}

func TestFoldWidth(t *testing.T) {
	if got := FoldWidth("０９０-1234"); got != "090-1234" {
		t.Fatalf("expected folded digits, got %q", got)
	}
	if got := FoldWidth(" Tanaka "); got != "Tanaka" {
		t.Fatalf("expected trimmed string, got %q", got)
	}
}

func TestNormalizeStringMap(t *testing.T) {
	t.Run("cleans keys and values", func(t *testing.T) {
		input := map[string]string{
			" finish ": " Oiled ",
			"size":     " Large ",
			"empty":    " ",
			" ":        "ignored",
			"":         "ignore",
		}

		expected := map[string]string{
			"finish": "Oiled",
			"size":   "Large",
			"empty":  "",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
	})
}
