package protect

import (
	"bufio"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Detector classifies generated files. It is safe for concurrent use once
// built.
type Detector struct {
	secretTypes []string
	patterns    []string
	keywords    []string
	imports     map[string][]*compiledRule
}

type compiledRule struct {
	re     *regexp.Regexp
	reason string
}

// New returns a detector with the default rules.
func New() *Detector {
	d := &Detector{
		secretTypes: slices.Clone(SecretFileTypes),
		patterns:    slices.Clone(SensitivePatterns),
		keywords:    slices.Clone(SensitiveKeywords),
		imports:     make(map[string][]*compiledRule, len(securityImports)),
	}
	for lang, rules := range securityImports {
		for _, r := range rules {
			d.imports[lang] = append(d.imports[lang], &compiledRule{re: regexp.MustCompile(r.pattern), reason: r.reason})
		}
	}
	return d
}

// Classify returns an issue for f when it needs security attention.
// Secret material is blocking; sensitive areas are informational.
func (d *Detector) Classify(f models.File) (models.Issue, bool) {
	p := strings.TrimPrefix(path.Clean(strings.ReplaceAll(f.Path, "\\", "/")), "./")
	base := strings.ToLower(path.Base(p))

	if slices.Contains(d.secretTypes, path.Ext(base)) || isEnvFile(base) {
		return models.Issue{
			Severity: secretSeverity,
			Message:  fmt.Sprintf("secret material committed: %s must not ship with the app", base),
			File:     f.Path,
		}, true
	}

	for _, pattern := range d.patterns {
		if matchGlob(p, pattern) {
			return sensitive(f.Path, "sensitive area "+pattern), true
		}
	}
	for _, word := range nameWords(base) {
		if slices.Contains(d.keywords, word) {
			return sensitive(f.Path, "sensitive name "+word), true
		}
	}
	if reason, ok := d.importReason(base, f.Content); ok {
		return sensitive(f.Path, "uses "+reason), true
	}
	return models.Issue{}, false
}

// Scan classifies every file and returns the issues in file order.
func (d *Detector) Scan(files []models.File) []models.Issue {
	var issues []models.Issue
	for _, f := range files {
		if issue, ok := d.Classify(f); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

func (d *Detector) importReason(base, content string) (string, bool) {
	rules := d.imports[languages[path.Ext(base)]]
	if len(rules) == 0 {
		return "", false
	}
	sc := bufio.NewScanner(strings.NewReader(content))
	for n := 0; n < importScanLines && sc.Scan(); n++ {
		line := sc.Text()
		for _, r := range rules {
			if r.re.MatchString(line) {
				return r.reason, true
			}
		}
	}
	return "", false
}

func sensitive(file, msg string) models.Issue {
	return models.Issue{Severity: sensitiveSeverity, Message: msg + ", review access control", File: file}
}

// isEnvFile matches .env and .env.production but not .env.example.
func isEnvFile(base string) bool {
	if base != ".env" && !strings.HasPrefix(base, ".env.") {
		return false
	}
	for _, s := range templateSuffixes {
		if strings.HasSuffix(base, s) {
			return false
		}
	}
	return true
}

// nameWords splits a file name, minus its extension, on separators.
func nameWords(base string) []string {
	name := strings.TrimSuffix(base, path.Ext(base))
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
}
