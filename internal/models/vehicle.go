package models

import "strings"

type Vehicle struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Features string `json:"features" yaml:"features"`
}

// Tags splits the comma-separated feature string into normalized tags.
// Empty entries are dropped, duplicates are kept once in first-seen order.
func (v Vehicle) Tags() []string {
	if strings.TrimSpace(v.Features) == "" {
		return nil
	}
	parts := strings.Split(v.Features, ",")
	seen := make(map[string]struct{}, len(parts))
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		tag := NormalizeTag(p)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// NormalizeTag trims and lower-cases a feature tag or vehicle type.
func NormalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
