package formatting

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

// Section is one required heading of the project plan
type Section struct {
	Heading string
	// Keyword identifies the section regardless of numbering or exact wording.
	Keyword string
}

// RequiredSections lists the plan sections in order. Sources is handled separately.
var RequiredSections = []Section{
	{Heading: "## 1. Executive Summary", Keyword: "executive summary"},
	{Heading: "## 2. Technology Stack Recommendation", Keyword: "technology stack"},
	{Heading: "## 3. Project Structure & Architectural Patterns", Keyword: "project structure"},
	{Heading: "## 4. Phased Development Plan (MVP to Full Launch)", Keyword: "phased"},
	{Heading: "## 5. Key Best Practices", Keyword: "best practices"},
}

// NotAvailable marks a section the report had no information for.
const NotAvailable = "N/A"

// EnsureSections appends any missing required section as "N/A". A Sources
// section written by the model is kept as is, since inline [n] markers refer
// to its numbering. Without one, a list is built from the URLs in the report
// and then in rawNotes, deduplicated in first-seen order.
func EnsureSections(report string, rawNotes []string) string {
	s := strings.TrimSpace(report)
	if s == "" {
		return report
	}

	body, sources := splitSources(s)
	lower := strings.ToLower(body)

	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	for _, sec := range RequiredSections {
		if hasHeading(lower, sec.Keyword) {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(sec.Heading)
		b.WriteString("\n")
		b.WriteString(NotAvailable)
	}

	b.WriteString("\n\n")
	if hasEntries(sources) {
		b.WriteString(strings.TrimSpace(sources))
		return b.String()
	}

	urls := util.ExtractURLs(body)
	for _, note := range rawNotes {
		urls = appendUnique(urls, util.ExtractURLs(note)...)
	}
	b.WriteString("### Sources\n")
	if len(urls) == 0 {
		b.WriteString(NotAvailable)
		return b.String()
	}
	for i, u := range urls {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, u)
	}
	return b.String()
}

// hasEntries reports whether a Sources section lists anything below its heading.
func hasEntries(sources string) bool {
	_, rest, ok := strings.Cut(sources, "\n")
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	return rest != "" && !strings.EqualFold(rest, NotAvailable)
}

// splitSources cuts at the last Sources heading so a mention earlier in the body survives.
func splitSources(s string) (body, sources string) {
	lower := strings.ToLower(s)
	idx := -1
	for _, needle := range []string{"### sources", "## sources"} {
		if i := strings.LastIndex(lower, needle); i > idx {
			idx = i
		}
	}
	if idx == -1 {
		return s, ""
	}
	// "### sources" also contains "## sources"; step back to the start of the line.
	for idx > 0 && s[idx-1] == '#' {
		idx--
	}
	return strings.TrimSpace(s[:idx]), s[idx:]
}

func hasHeading(lower, keyword string) bool {
	for _, line := range strings.Split(lower, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "#") && strings.Contains(t, keyword) {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, d := range dst {
		seen[d] = struct{}{}
	}
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		dst = append(dst, it)
	}
	return dst
}
