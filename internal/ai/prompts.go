package ai

import "fmt"

const (
	maxCodeChars   = 8000
	maxDiffChars   = 10000
	maxOutputChars = 4000
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func codeQualityPrompt(filename, content string) string {
	return fmt.Sprintf(`You are DevBrain, an expert senior engineer reviewing a file a developer just saved.

FILE: %q
CONTENT:
%s

Decide whether this file demonstrates a reusable engineering lesson (a pattern worth repeating or a mistake worth avoiding).
If it does, return JSON:
{
  "hasWisdom": true,
  "title": "Short name of the lesson",
  "rationale": "Why it matters in this code",
  "principle": "The general engineering principle",
  "description": "How to apply it",
  "tags": ["relevant", "technologies"],
  "confidence": 0-100
}
If it does not, return { "hasWisdom": false }.`, filename, truncate(content, maxCodeChars))
}

func commitPrompt(message, diff string) string {
	return fmt.Sprintf(`You are DevBrain, an expert senior engineer. Analyze this GitHub commit to extract high-quality development wisdom.

COMMIT MESSAGE: %q
COMMIT DIFF:
%s

CRITERIA:
1. ONLY extract if this is a bug fix, a solution to a technical problem, or a significant architectural change.
2. IGNORE trivial changes (chores, documentation, formatting, simple refactors).
3. If it is worth recording, return JSON:
{
  "isWorthRecording": true,
  "type": "bugfix" | "pattern" | "optimization",
  "title": "Clear, technical summary of the insight",
  "problemContext": "The issue or state before the change",
  "mentalModel": "The deeper technical principle or pattern",
  "implementationDetails": "Concise summary of how the change was structured",
  "tags": ["relevant", "technologies", "patterns"],
  "confidence": 0-100
}
4. If it is NOT worth recording, return { "isWorthRecording": false }.
5. Explain the mechanics; avoid generic answers like "fixed syntax".`, message, truncate(diff, maxDiffChars))
}

func wisdomPrompt(failureOutput, successDescription string) string {
	return fmt.Sprintf(`Convert this error and fix into a structured Wisdom Block.
ERROR: %s
FIX: %s

Return JSON with: rootCause, mentalModel, fixDescription, tags (array), frameworkContext.`,
		truncate(failureOutput, maxOutputChars), successDescription)
}
