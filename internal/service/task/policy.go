package task

import (
	"math"
	"strings"

	"github.com/taskquorum/api/internal/domain"
)

// ResolveAssignment applies the creation policy: normal users are always
// self-assigned no matter what list they submit, admins get the submitted
// list deduplicated in order, falling back to self-assignment when the
// list is empty.
func ResolveAssignment(creatorRole domain.Role, creatorID string, submitted []string) []string {
	if creatorRole != domain.RoleAdmin {
		return []string{creatorID}
	}
	seen := make(map[string]struct{}, len(submitted))
	final := make([]string, 0, len(submitted))
	for _, id := range submitted {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		final = append(final, id)
	}
	if len(final) == 0 {
		return []string{creatorID}
	}
	return final
}

// Progress returns the percentage of done tasks rounded to the nearest
// integer, and 0 for an empty slice.
func Progress(tasks []domain.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.IsDone {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(tasks)) * 100))
}
