package textutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// CleanString trims surrounding whitespace and applies Unicode NFC normalisation
// so visually identical strings compare equal regardless of input method.
func CleanString(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// FoldWidth folds full-width and half-width variants to their canonical form,
// then cleans the result. Buyer-entered phone numbers and names arrive in
// mixed widths from mobile keyboards.
func FoldWidth(value string) string {
	return CleanString(width.Fold.String(value))
}

// NormalizeStringMap cleans keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		cleanKey := CleanString(key)
		if cleanKey == "" {
			continue
		}
		result[cleanKey] = CleanString(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
