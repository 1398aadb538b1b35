// Package rules holds the pure decision functions of the game economy:
// item predicates, purchase evaluation, gold action validation and the
// login lockout policy. Nothing here touches storage.
package rules

import (
	"strings"

	"github.com/kasuganosora/escaperoom/server/model"
)

// IsAvailable reports whether the shop still has stock of item.
func IsAvailable(item *model.Item) bool {
	return item.Quantity > 0
}

// CheckPrerequisites reports whether a character owning the given items may
// buy item. Only presence in owned counts, not quantity.
func CheckPrerequisites(item *model.Item, owned map[string]int) bool {
	prereqs := strings.TrimSpace(item.Prereqs)
	if prereqs == "" {
		return true
	}
	if prereqs == model.PrereqsLocked {
		return false
	}
	for _, id := range ParsePrereqs(prereqs) {
		if _, ok := owned[id]; !ok {
			return false
		}
	}
	return true
}

// ParsePrereqs splits a comma-separated prerequisite list, dropping blanks.
func ParsePrereqs(prereqs string) []string {
	parts := strings.Split(prereqs, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
