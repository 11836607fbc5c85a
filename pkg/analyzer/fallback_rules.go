package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloudops-platform/orgevents/pkg/domain"
)

// riskLevelRule assigns a risk level to an eventTypeCode containing a
// given substring. Matched in order; the first match wins. Authored as
// data so the keyword table can be tuned by editing
// config/fallback_analysis_rules.yaml instead of a Go literal.
type riskLevelRule struct {
	Contains  string `yaml:"contains"`
	RiskLevel string `yaml:"riskLevel"`
}

// impactCategoryRule assigns a risk category and impact type to an
// eventTypeCode containing a given substring.
type impactCategoryRule struct {
	Contains     string `yaml:"contains"`
	RiskCategory string `yaml:"riskCategory"`
	ImpactType   string `yaml:"impactType"`
}

// fallbackRulesFile is the on-disk shape of
// config/fallback_analysis_rules.yaml.
type fallbackRulesFile struct {
	RiskLevels       []riskLevelRule      `yaml:"riskLevels"`
	ImpactCategories []impactCategoryRule `yaml:"impactCategories"`
}

var defaultRiskLevelRules = []riskLevelRule{
	{Contains: "OPERATIONAL_ISSUE", RiskLevel: "HIGH"},
	{Contains: "SECURITY", RiskLevel: "HIGH"},
	{Contains: "MAINTENANCE", RiskLevel: "LOW"},
	{Contains: "LIFECYCLE", RiskLevel: "LOW"},
}

var defaultImpactCategoryRules = []impactCategoryRule{
	{Contains: "OPERATIONAL", RiskCategory: "Service Impact", ImpactType: "Service"},
}

// riskLevelRules and impactCategoryRules are the active fallback
// keyword tables, consulted by Analyzer.fallback. LoadFallbackAnalysisRulesOrDefault
// replaces them at startup if an override file is configured.
var riskLevelRules = defaultRiskLevelRules
var impactCategoryRules = defaultImpactCategoryRules

// LoadFallbackAnalysisRules loads config/fallback_analysis_rules.yaml.
func LoadFallbackAnalysisRules() ([]riskLevelRule, []impactCategoryRule, error) {
	return LoadFallbackAnalysisRulesFromPath(filepath.Join("config", "fallback_analysis_rules.yaml"))
}

// LoadFallbackAnalysisRulesFromPath loads the fallback keyword tables
// from a specific path.
func LoadFallbackAnalysisRulesFromPath(path string) ([]riskLevelRule, []impactCategoryRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read fallback analysis rules: %w", err)
	}

	var file fallbackRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse fallback analysis rules: %w", err)
	}
	if len(file.RiskLevels) == 0 || len(file.ImpactCategories) == 0 {
		return nil, nil, fmt.Errorf("fallback analysis rules file is missing riskLevels or impactCategories")
	}
	return file.RiskLevels, file.ImpactCategories, nil
}

// LoadFallbackAnalysisRulesOrDefault installs the on-disk fallback
// keyword tables as the active ones, falling back to the built-in
// defaults if no override file is present.
func LoadFallbackAnalysisRulesOrDefault() {
	levels, categories, err := LoadFallbackAnalysisRules()
	if err != nil {
		riskLevelRules = defaultRiskLevelRules
		impactCategoryRules = defaultImpactCategoryRules
		return
	}
	riskLevelRules = levels
	impactCategoryRules = categories
}

func riskLevelFor(upperCode string) domain.RiskLevel {
	for _, rule := range riskLevelRules {
		if strings.Contains(upperCode, rule.Contains) {
			return parseRiskLevel(rule.RiskLevel)
		}
	}
	return domain.RiskMedium
}

func impactCategoryFor(upperCode string) (riskCategory, impactType string) {
	for _, rule := range impactCategoryRules {
		if strings.Contains(upperCode, rule.Contains) {
			return rule.RiskCategory, rule.ImpactType
		}
	}
	return "Maintenance", "Informational"
}

func parseRiskLevel(raw string) domain.RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL":
		return domain.RiskCritical
	case "HIGH":
		return domain.RiskHigh
	case "LOW":
		return domain.RiskLow
	default:
		return domain.RiskMedium
	}
}
