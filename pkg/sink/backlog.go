package sink

import (
	"strings"

	"catalog-crawler/pkg/config"
)

// FilterIdentifiers keeps the values that look like product identifiers per
// the backlog configuration: all digits, exactly the configured length,
// starting with the configured prefix. Order is preserved and repeats are
// dropped.
func FilterIdentifiers(values []string, cfg config.BacklogConfig) []string {
	seen := make(map[string]struct{}, len(values))
	var ids []string
	for _, v := range values {
		id := strings.TrimSpace(v)
		if len(id) != cfg.Length || !strings.HasPrefix(id, cfg.Prefix) {
			continue
		}
		if !allDigits(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
