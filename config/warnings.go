package config

import "strings"

// UnknownKeyWarning represents a warning about an unknown configuration key
type UnknownKeyWarning struct {
	Section    string
	Key        string
	Suggestion string // "did you mean?" suggestion, if available
}

// GenerateUnknownKeyWarnings generates warnings for unknown keys with suggestions
func GenerateUnknownKeyWarnings(section string, unusedKeys []string, knownKeys []string) []UnknownKeyWarning {
	warnings := make([]UnknownKeyWarning, 0, len(unusedKeys))

	for _, key := range unusedKeys {
		warning := UnknownKeyWarning{
			Section: section,
			Key:     key,
		}

		if suggestion := findClosestMatch(key, knownKeys); suggestion != "" {
			warning.Suggestion = suggestion
		}

		warnings = append(warnings, warning)
	}

	return warnings
}

// findClosestMatch finds the closest matching key using simple edit distance
func findClosestMatch(key string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	key = strings.ToLower(key)
	bestMatch := ""
	bestDistance := len(key) + 1 // Max possible distance

	for _, candidate := range candidates {
		candidate = strings.ToLower(candidate)
		distance := levenshteinDistance(key, candidate)

		// Only suggest if reasonably close (< 3 edits or < 40% of key length)
		threshold := 3
		if len(key) > 5 {
			threshold = len(key) * 2 / 5
		}

		if distance < bestDistance && distance <= threshold {
			bestDistance = distance
			bestMatch = candidate
		}
	}

	return bestMatch
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
