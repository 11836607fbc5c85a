package healthfeed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// descriptionRule maps an eventTypeCode prefix list to a template used
// to derive Event.SimplifiedDescription. Matched in order; the first
// matching prefix wins. Authored as data so it can be tuned by editing
// config/simplified_descriptions.yaml instead of a Go literal.
type descriptionRule struct {
	Prefixes []string `yaml:"prefixes"`
	Template string   `yaml:"template"`
}

// descriptionRulesFile is the on-disk shape of
// config/simplified_descriptions.yaml.
type descriptionRulesFile struct {
	Rules []descriptionRule `yaml:"rules"`
}

// defaultDescriptionRules is the built-in rule table, used whenever no
// override file is present or the override fails to parse.
var defaultDescriptionRules = []descriptionRule{
	{Prefixes: []string{"AWS_OPERATIONAL_ISSUE", "OPERATIONAL_ISSUE"}, Template: "%s - Service disruptions or operational impact notifications"},
	{Prefixes: []string{"SECURITY_NOTIFICATION"}, Template: "%s - Security-related alerts and notifications"},
	{Prefixes: []string{"PLANNED_LIFECYCLE_EVENT"}, Template: "%s - Lifecycle changes affecting resources"},
	{Prefixes: []string{"MAINTENANCE_SCHEDULED", "SYSTEM_MAINTENANCE", "PATCHING_RETIREMENT"}, Template: "%s - Routine Maintenance"},
	{Prefixes: []string{"UPDATE_AVAILABLE"}, Template: "%s - Available software or system updates"},
	{Prefixes: []string{"VPN_CONNECTIVITY"}, Template: "VPN tunnel or connection status alert"},
	{Prefixes: []string{"BILLING_NOTIFICATION"}, Template: "%s - Billing or Cost change notification"},
}

// simplifiedDescriptionRules is the active rule table consulted by
// SimplifyDescription. LoadSimplifiedDescriptionRulesOrDefault replaces
// it at startup if an override file is configured.
var simplifiedDescriptionRules = defaultDescriptionRules

// LoadSimplifiedDescriptionRules loads config/simplified_descriptions.yaml.
func LoadSimplifiedDescriptionRules() ([]descriptionRule, error) {
	return LoadSimplifiedDescriptionRulesFromPath(filepath.Join("config", "simplified_descriptions.yaml"))
}

// LoadSimplifiedDescriptionRulesFromPath loads the rule table from a
// specific path.
func LoadSimplifiedDescriptionRulesFromPath(path string) ([]descriptionRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read simplified description rules: %w", err)
	}

	var file descriptionRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse simplified description rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("simplified description rules file has no rules")
	}
	return file.Rules, nil
}

// LoadSimplifiedDescriptionRulesOrDefault installs the on-disk rule
// table as the active one, falling back to (and returning) the
// built-in defaults if no override file is present.
func LoadSimplifiedDescriptionRulesOrDefault() []descriptionRule {
	rules, err := LoadSimplifiedDescriptionRules()
	if err != nil {
		simplifiedDescriptionRules = defaultDescriptionRules
		return simplifiedDescriptionRules
	}
	simplifiedDescriptionRules = rules
	return simplifiedDescriptionRules
}

// SimplifyDescription derives the human-friendly one-line summary used
// in dashboards and notification emails, from the service name and the
// raw eventTypeCode, via prefix matching against the active rule table.
func SimplifyDescription(service, eventTypeCode string) string {
	for _, rule := range simplifiedDescriptionRules {
		for _, prefix := range rule.Prefixes {
			if strings.HasPrefix(eventTypeCode, prefix) {
				if strings.Contains(rule.Template, "%s") {
					return strings.Replace(rule.Template, "%s", service, 1)
				}
				return rule.Template
			}
		}
	}
	return service + " - Service-specific events"
}
