package vision

import "strings"

// DefaultClassNames порядок классов в обученной модели болтов.
var DefaultClassNames = []string{"hub", "loose_bolt", "fixed_bolt", "no_bolt"}

// ParseClassNames разбирает список "hub,loose_bolt,...".
func ParseClassNames(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), DefaultClassNames...)
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names
}

// ClassNameMap индекс -> имя класса.
func ClassNameMap(names []string) map[int]string {
	m := make(map[int]string, len(names))
	for i, n := range names {
		m[i] = n
	}
	return m
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return ""
}
