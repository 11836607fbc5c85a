package healthfeed

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSimplifyDescriptionMatchesFirstPrefix(t *testing.T) {
	simplifiedDescriptionRules = defaultDescriptionRules
	got := SimplifyDescription("EC2", "AWS_OPERATIONAL_ISSUE_DEGRADED")
	want := "EC2 - Service disruptions or operational impact notifications"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSimplifyDescriptionFallsBackWhenNoPrefixMatches(t *testing.T) {
	simplifiedDescriptionRules = defaultDescriptionRules
	got := SimplifyDescription("RDS", "SOME_UNKNOWN_CODE")
	want := "RDS - Service-specific events"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadSimplifiedDescriptionRulesFromPathParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simplified_descriptions.yaml")
	content := "rules:\n  - prefixes: [\"CUSTOM_CODE\"]\n    template: \"%s - Custom override\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rules, err := LoadSimplifiedDescriptionRulesFromPath(path)
	if err != nil {
		t.Fatalf("LoadSimplifiedDescriptionRulesFromPath: %v", err)
	}
	if len(rules) != 1 || rules[0].Template != "%s - Custom override" {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	defer func() { simplifiedDescriptionRules = defaultDescriptionRules }()
	simplifiedDescriptionRules = rules
	got := SimplifyDescription("Lambda", "CUSTOM_CODE_X")
	if got != "Lambda - Custom override" {
		t.Errorf("got %q", got)
	}
}

func TestLoadSimplifiedDescriptionRulesOrDefaultFallsBackWhenFileMissing(t *testing.T) {
	defer func() { simplifiedDescriptionRules = defaultDescriptionRules }()
	rules := LoadSimplifiedDescriptionRulesOrDefault()
	if len(rules) != len(defaultDescriptionRules) {
		t.Errorf("expected the built-in defaults when no override file is configured, got %d rules", len(rules))
	}
}
