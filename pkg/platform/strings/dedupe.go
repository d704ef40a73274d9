// Package strings holds list helpers used when reading comma-separated
// configuration values.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated value, trims each element and drops
// empties and duplicates. Order is preserved.
//
//	SplitList(" kafka-1:9092, kafka-2:9092,,kafka-1:9092")
//	// []string{"kafka-1:9092", "kafka-2:9092"}
func SplitList(value string) []string {
	return dedupe(strings.Split(value, ","), false)
}

// SplitListLower is SplitList with every element lowercased. Used for MIME
// types, which compare case-insensitively.
func SplitListLower(value string) []string {
	return dedupe(strings.Split(value, ","), true)
}

// DedupeAndTrimLower trims, lowercases and deduplicates values.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, true)
}

func dedupe(values []string, lower bool) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
