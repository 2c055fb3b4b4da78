package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// AntiPattern is one catalog finding for a file.
type AntiPattern struct {
	Name           string
	Symptoms       string
	BetterApproach string
}

var (
	reThen        = regexp.MustCompile(`\.then\(`)
	reCatch       = regexp.MustCompile(`\.catch\(`)
	reAwait       = regexp.MustCompile(`await\s+`)
	reTryBlock    = regexp.MustCompile(`try\s*\{`)
	reMagicNumber = regexp.MustCompile(`[^a-zA-Z_](\d{3,})[^a-zA-Z_]`)
	reDeepIndent  = regexp.MustCompile(`(?m)^[ \t]{16,}`)
	reSilentCatch = regexp.MustCompile(`catch\s*\([^)]*\)\s*\{\s*\}`)
)

type detector func(content string, lines int) (AntiPattern, bool)

// catalog is evaluated in order; findings keep this order.
var catalog = []detector{
	func(c string, _ int) (AntiPattern, bool) {
		n := len(reThen.FindAllStringIndex(c, -1)) + len(reCatch.FindAllStringIndex(c, -1))
		return AntiPattern{
			Name:           "Callback Hell",
			Symptoms:       fmt.Sprintf("%d chained promise callbacks detected. Hard to read and maintain.", n),
			BetterApproach: "Use async/await syntax instead of .then().catch() chains for cleaner, more readable code.",
		}, n > 3
	},
	func(_ string, lines int) (AntiPattern, bool) {
		return AntiPattern{
			Name:           "Overly Complex File",
			Symptoms:       fmt.Sprintf("%d lines in single file. Difficult to maintain and test.", lines),
			BetterApproach: "Split file into smaller, focused modules. Aim for 100-200 lines per file.",
		}, lines > 300
	},
	func(c string, _ int) (AntiPattern, bool) {
		awaits := len(reAwait.FindAllStringIndex(c, -1))
		return AntiPattern{
			Name:           "Missing Error Handling",
			Symptoms:       fmt.Sprintf("%d await statements but no try-catch blocks. Unhandled promise rejections likely.", awaits),
			BetterApproach: "Wrap async operations in try-catch blocks to handle errors gracefully.",
		}, awaits > 3 && !reTryBlock.MatchString(c)
	},
	func(c string, _ int) (AntiPattern, bool) {
		n := len(reMagicNumber.FindAllStringIndex(c, -1))
		return AntiPattern{
			Name:           "Magic Numbers",
			Symptoms:       fmt.Sprintf("%d hardcoded numbers without explanation. Makes code hard to understand.", n),
			BetterApproach: "Extract magic numbers to named constants with clear meanings.",
		}, n > 5
	},
	func(c string, _ int) (AntiPattern, bool) {
		n := len(reDeepIndent.FindAllStringIndex(c, -1))
		return AntiPattern{
			Name:           "Deeply Nested Code",
			Symptoms:       fmt.Sprintf("%d deeply nested blocks detected (>4 levels). Reduces readability.", n),
			BetterApproach: "Extract nested logic into separate functions or use early returns to reduce nesting.",
		}, n > 5
	},
	func(c string, _ int) (AntiPattern, bool) {
		n := len(reSilentCatch.FindAllStringIndex(c, -1))
		return AntiPattern{
			Name:           "Silent Failures",
			Symptoms:       fmt.Sprintf("%d empty catch block(s). Errors are being silently ignored.", n),
			BetterApproach: "Log errors, handle them appropriately, or re-throw if they cannot be handled.",
		}, n > 0
	},
}

// DetectAntiPatterns runs the catalog over content.
func DetectAntiPatterns(content string) []AntiPattern {
	lines := strings.Count(content, "\n") + 1
	var found []AntiPattern
	for _, detect := range catalog {
		if ap, ok := detect(content, lines); ok {
			found = append(found, ap)
		}
	}
	return found
}
