package catalog

import (
	"fmt"
	"sort"

	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
)

// Severity grades a validation issue.
type Severity string

const (
	// SeverityError marks content that misbehaves at runtime.
	SeverityError Severity = "error"
	// SeverityWarning marks content that is legal but likely unintended.
	SeverityWarning Severity = "warning"
)

// Issue is one finding of Validate.
type Issue struct {
	Severity Severity
	Tag      tags.Tag
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Tag, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks loaded definitions for content problems that would only
// surface at runtime: dangling branch targets, missions that can soft-lock,
// negative delays, targets that start invalid, and cycles among
// non-repeatable missions.
func Validate(reg *Registry) []Issue {
	var issues []Issue
	add := func(sev Severity, tag tags.Tag, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Tag: tag, Message: fmt.Sprintf(format, args...)})
	}

	for _, def := range reg.Definitions() {
		if len(def.Branches) > 0 && allConditional(def.Branches) {
			add(SeverityWarning, def.Tag, "every branch is conditional; completion can soft-lock")
		}
		for i, br := range def.Branches {
			if br.Behavior.DelaySeconds < 0 {
				add(SeverityError, def.Tag, "branch %d has negative delay %.2f", i, br.Behavior.DelaySeconds)
			}
			target, ok := reg.Target(br)
			if !ok {
				add(SeverityError, def.Tag, "branch %d targets missing row %s", i, br.Target)
				continue
			}
			if target.StartState == mission.StateInvalid {
				add(SeverityWarning, def.Tag, "branch %d targets %s which starts invalid", i, target.Tag)
			}
		}
	}

	for _, tag := range cycleMembers(reg) {
		add(SeverityWarning, tag, "part of a branch cycle among non-repeatable missions")
	}
	return issues
}

func allConditional(branches []Branch) bool {
	for _, br := range branches {
		if br.Condition.Empty() {
			return false
		}
	}
	return true
}

// cycleMembers runs Kahn's algorithm over branch edges between non-repeatable
// missions and returns the tags left with a positive in-degree, sorted.
func cycleMembers(reg *Registry) []tags.Tag {
	edges := make(map[mission.ID][]mission.ID)
	inDegree := make(map[mission.ID]int)
	for _, def := range reg.Definitions() {
		if def.Repeatable {
			continue
		}
		if _, ok := inDegree[def.ID]; !ok {
			inDegree[def.ID] = 0
		}
		for _, br := range def.Branches {
			target, ok := reg.Target(br)
			if !ok || target.Repeatable {
				continue
			}
			edges[def.ID] = append(edges[def.ID], target.ID)
			inDegree[target.ID]++
		}
	}

	var queue []mission.ID
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range edges[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed == len(inDegree) {
		return nil
	}

	var out []tags.Tag
	for id, deg := range inDegree {
		if deg > 0 {
			def, _ := reg.ByID(id)
			out = append(out, def.Tag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
