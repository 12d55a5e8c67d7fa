package catalog

import (
	"strings"
	"testing"
)

func TestValidateFindsIssues(t *testing.T) {
	table := NewMemTable("quests", []Row{
		{
			Name: "gated",
			Tag:  "Quest.Gated",
			Branches: []BranchRow{
				{Target: "ok", Required: []string{"Faction.Red"}},
				{Target: "ok", Required: []string{"Faction.Blue"}},
			},
		},
		{Name: "dangling", Tag: "Quest.Dangling", Branches: []BranchRow{{Target: "nowhere"}}},
		{Name: "negative", Tag: "Quest.Negative", Branches: []BranchRow{{Target: "ok", DelaySeconds: -1}}},
		{Name: "toinvalid", Tag: "Quest.ToInvalid", Branches: []BranchRow{{Target: "invalid"}}},
		{Name: "ok", Tag: "Quest.Ok"},
		{Name: "invalid", Tag: "Quest.Invalid", StartState: "invalid"},
	})
	reg, _ := Load([]Table{table}, quietLogger())
	issues := Validate(reg)

	expect := map[string]Severity{
		"Quest.Gated: every branch is conditional":     SeverityWarning,
		"Quest.Dangling: branch 0 targets missing row": SeverityError,
		"Quest.Negative: branch 0 has negative delay":  SeverityError,
		"Quest.ToInvalid: branch 0 targets":            SeverityWarning,
	}
	for prefix, sev := range expect {
		found := false
		for _, issue := range issues {
			line := string(issue.Tag) + ": " + issue.Message
			if strings.HasPrefix(line, prefix) && issue.Severity == sev {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %s issue %q, got %v", sev, prefix, issues)
		}
	}
	if !HasErrors(issues) {
		t.Fatal("expected HasErrors to report errors")
	}
}

func TestValidateDetectsCycles(t *testing.T) {
	table := NewMemTable("loop", []Row{
		{Name: "a", Tag: "Loop.A", Branches: []BranchRow{{Target: "b"}}},
		{Name: "b", Tag: "Loop.B", Branches: []BranchRow{{Target: "a"}}},
		{Name: "c", Tag: "Loop.C", Branches: []BranchRow{{Target: "d"}}},
		{Name: "d", Tag: "Loop.D", Repeatable: true, Branches: []BranchRow{{Target: "c"}}},
	})
	reg, _ := Load([]Table{table}, quietLogger())
	issues := Validate(reg)

	var cyclic []string
	for _, issue := range issues {
		if strings.Contains(issue.Message, "cycle") {
			cyclic = append(cyclic, string(issue.Tag))
		}
	}
	if len(cyclic) != 2 || cyclic[0] != "Loop.A" || cyclic[1] != "Loop.B" {
		t.Fatalf("expected cycle warnings for Loop.A and Loop.B, got %v", cyclic)
	}
	if HasErrors(issues) {
		t.Fatalf("cycles are warnings only, got %v", issues)
	}
}

func TestValidateCleanCatalog(t *testing.T) {
	reg, _ := Load([]Table{introTable()}, quietLogger())
	if issues := Validate(reg); len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}
