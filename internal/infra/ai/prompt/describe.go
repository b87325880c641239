package prompt

import (
	"fmt"
	"strings"
)

// GetSystemPrompt returns the system prompt for site image description.
func GetSystemPrompt() string {
	return strings.TrimSpace(`
You are a construction site inspector describing progress photos against a BIM reference model.
Only describe what is visible. Never infer occluded, hidden or internal parts, never assume
materials you cannot see, and never mention elements outside the image frame. Use hedging
("appears to be", "likely") when uncertain and note viewing limitations such as angle,
obstructions or lighting.`)
}

// GetUserPrompt builds the description request with retrieved BIM context
// and optional caller context.
func GetUserPrompt(contextLines []string, extraContext string) string {
	var b strings.Builder
	b.WriteString("Analyze this construction site image in detail. Focus on:\n")
	b.WriteString("1. Structural elements visible (walls, columns, slabs, beams, foundations)\n")
	b.WriteString("2. Construction progress and completion status\n")
	b.WriteString("3. Materials and building techniques visible\n")
	b.WriteString("4. Any deviations, quality issues, or safety concerns\n")
	b.WriteString("5. Overall construction phase\n")
	if len(contextLines) > 0 {
		b.WriteString("\nExpected elements from the reference model:\n")
		limit := len(contextLines)
		if limit > 10 {
			limit = 10
		}
		for _, line := range contextLines[:limit] {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if extraContext != "" {
		fmt.Fprintf(&b, "\nAdditional context: %s\n", extraContext)
	}
	b.WriteString("\nProvide a detailed technical description.")
	return b.String()
}

// GetCaptionPrompt returns the short-caption prompt used for embedding.
func GetCaptionPrompt() string {
	return "Describe the visible structural elements of this construction site photo in one short paragraph, naming each element type."
}
