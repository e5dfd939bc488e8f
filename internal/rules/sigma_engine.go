package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

var techniqueTagRegex = regexp.MustCompile(`^attack\.t\d{4}(?:\.\d{3})?$`)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles        int
	Loaded            int
	SkippedComplex    int
	SkippedDatasource int
	SkippedInvalid    int
}

type compiledRule struct {
	eval *sigmaevaluator.RuleEvaluator
	tag  models.IoaTag
}

// SigmaEngine evaluates single-event Sigma rules against Sysmon events.
type SigmaEngine struct {
	rules []compiledRule
}

// NewSigmaEngine loads Sigma rules from a file or directory.
// Correlation, keyword and non-Sysmon rules are skipped and counted in stats.
func NewSigmaEngine(path string) (*SigmaEngine, SigmaLoadStats, error) {
	files, err := ruleFiles(path)
	if err != nil {
		return nil, SigmaLoadStats{}, err
	}

	docs := make([][]byte, 0, len(files))
	var unreadable int
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			logger.Warnf("Skipping sigma rule %s: %v", f, err)
			unreadable++
			continue
		}
		docs = append(docs, raw)
	}

	engine, stats := CompileSigmaRules(docs...)
	stats.TotalFiles = len(files)
	stats.SkippedInvalid += unreadable
	logger.Infof("Sigma rules from %s: loaded=%d complex=%d datasource=%d invalid=%d",
		path, stats.Loaded, stats.SkippedComplex, stats.SkippedDatasource, stats.SkippedInvalid)
	return engine, stats, nil
}

// CompileSigmaRules builds an engine from in-memory rule documents.
func CompileSigmaRules(docs ...[]byte) (*SigmaEngine, SigmaLoadStats) {
	stats := SigmaLoadStats{TotalFiles: len(docs)}
	engine := &SigmaEngine{rules: make([]compiledRule, 0, len(docs))}
	for _, doc := range docs {
		rule, err := sigma.ParseRule(doc)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if !isSysmonCompatible(rule) {
			stats.SkippedDatasource++
			continue
		}
		if !isSingleEventRule(rule) {
			stats.SkippedComplex++
			continue
		}
		engine.rules = append(engine.rules, compiledRule{
			eval: sigmaevaluator.ForRule(rule),
			tag:  tagFromRule(rule),
		})
		stats.Loaded++
	}
	return engine, stats
}

// Len returns the number of compiled rules.
func (e *SigmaEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Match returns one tag per rule the event satisfies, in load order.
func (e *SigmaEngine) Match(ctx context.Context, event *models.Event) []models.IoaTag {
	if e == nil || event == nil || len(e.rules) == 0 {
		return nil
	}

	fields := eventFields(event)
	var out []models.IoaTag
	for _, r := range e.rules {
		res, err := r.eval.Matches(ctx, fields)
		if err != nil {
			logger.Debugf("Sigma rule %s failed on record %s: %v", r.tag.ID, event.RecordID, err)
			continue
		}
		if res.Match {
			out = append(out, r.tag)
		}
	}
	return out
}

func ruleFiles(path string) ([]string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}
	if !info.IsDir() {
		if !isYAMLFile(resolved) {
			return nil, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		return []string{resolved}, nil
	}

	var files []string
	err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && isYAMLFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory: %w", err)
	}
	return files, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isSysmonCompatible(rule sigma.Rule) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	service := strings.ToLower(strings.TrimSpace(rule.Logsource.Service))
	return (product == "" || product == "windows") && (service == "" || service == "sysmon")
}

func isSingleEventRule(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil || !isPlainExpression(cond.Search) {
			return false
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 || len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}

func isPlainExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isPlainExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isPlainExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isPlainExpression(e.Expr)
	default:
		return false
	}
}

func eventFields(event *models.Event) map[string]interface{} {
	buf := make(map[string]interface{}, len(event.Fields)+4)
	for k, v := range event.Fields {
		buf[k] = v
	}
	buf["EventID"] = event.EventID
	if event.Channel != "" {
		buf["Channel"] = event.Channel
	}
	if event.Hostname != "" {
		buf["Computer"] = event.Hostname
	}
	return buf
}

func tagFromRule(rule sigma.Rule) models.IoaTag {
	title := strings.TrimSpace(rule.Title)
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = title
	}
	level := strings.ToLower(strings.TrimSpace(rule.Level))
	if level == "" {
		level = "medium"
	}
	tactic, technique := parseAttackTags(rule.Tags)
	return models.IoaTag{ID: id, Name: title, Severity: level, Tactic: tactic, Technique: technique}
}

// parseAttackTags returns the first ATT&CK tactic and technique in tags.
func parseAttackTags(tags []string) (tactic, technique string) {
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		suffix, ok := strings.CutPrefix(tag, "attack.")
		if !ok {
			continue
		}
		if technique == "" && techniqueTagRegex.MatchString(tag) {
			technique = strings.ToUpper(strings.ReplaceAll(suffix, ".", "/"))
			continue
		}
		if tactic == "" && !strings.HasPrefix(suffix, "t") {
			tactic = strings.ReplaceAll(suffix, "_", "-")
		}
	}
	return tactic, technique
}
