package classifier

import (
	"fmt"
	"strings"

	"PaperSieve/internal/domain"
)

const (
	summaryLimit = 2000
	gistLimit    = 200
)

// Booster raises scores for papers from recognized labs or authors. It is
// described to the model in both prompt shapes.
type Booster struct {
	Labs    []string
	Authors []string
	Bonus   float64
}

// Enabled reports whether the booster has anything to match.
func (b Booster) Enabled() bool {
	return b.Bonus > 0 && (len(b.Labs) > 0 || len(b.Authors) > 0)
}

func (b Booster) instruction() string {
	if !b.Enabled() {
		return ""
	}
	return fmt.Sprintf(
		"AUTHORITY BOOSTER: if a paper involves authors from these labs: [%s], or these authors: [%s], "+
			"raise its score by +%.2f (up to a maximum of 1.0).\n",
		strings.ToLower(strings.Join(b.Labs, ", ")),
		strings.ToLower(strings.Join(b.Authors, ", ")),
		b.Bonus,
	)
}

func singlePrompt(p domain.Paper, keywords []string, titleOnly bool, booster Booster) (string, string) {
	system := "You are an expert reviewer of research papers. " +
		"Judge how relevant a paper is to the topics described by the keywords. " +
		"Reply with a single JSON object and nothing else."

	var sb strings.Builder
	if titleOnly {
		sb.WriteString("Judge the paper using its title only.\n\n")
	}
	fmt.Fprintf(&sb, "Paper title: %s\n", p.Title)
	if !titleOnly {
		fmt.Fprintf(&sb, "Paper abstract: %s\n", truncateRunes(p.Summary, summaryLimit))
	}
	if booster.Enabled() && len(p.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(p.Authors, ", "))
	}
	fmt.Fprintf(&sb, "\nRelevant keywords: %s\n\n", strings.Join(keywords, ", "))
	sb.WriteString(booster.instruction())
	sb.WriteString("Respond in JSON with these fields:\n")
	sb.WriteString(`- "relevant": true or false` + "\n")
	sb.WriteString(`- "score": a number from 0.0 to 1.0, where 1.0 means fully relevant` + "\n")
	if titleOnly {
		sb.WriteString(`- "reason": one short sentence` + "\n")
	} else {
		sb.WriteString(`- "reason": a brief explanation of the problem addressed, the method proposed and the outcome` + "\n")
	}
	sb.WriteString("Return JSON only.")

	return system, sb.String()
}

func batchPrompt(papers []domain.Paper, keywords []string, titleOnly bool, booster Booster) (string, string) {
	lines := make([]string, 0, len(papers))
	for _, p := range papers {
		gist := p.Summary
		if titleOnly {
			gist = truncateRunes(firstSentence(p.Summary), gistLimit)
		}
		line := fmt.Sprintf("[ID: %s] [%s] %s :: %s...", p.ID, shortCategory(p.PrimaryCategory()), p.Title, gist)
		if booster.Enabled() && len(p.Authors) > 0 {
			line += " (authors: " + strings.Join(p.Authors, ", ") + ")"
		}
		lines = append(lines, line)
	}

	var format string
	if titleOnly {
		format = "2. Output JSON ONLY in this format:\n" +
			`   {"reviews": [{"id": "...", "score": 0.8}, ...]}` + "\n" +
			"   Return every paper with a score.\n"
	} else {
		format = "2. Output JSON ONLY in this format:\n" +
			`   {"reviews": [{"id": "...", "score": 0.8, "reason": "..."}, ...]}` + "\n" +
			"   The reason states the problem addressed, the method proposed and the outcome.\n" +
			"   Return every paper with a score and a reason.\n"
	}

	system := "You are an expert research reviewer. Score papers by relevance to: " +
		strings.ToLower(strings.Join(keywords, ", ")) + ".\n" +
		"Pay attention to the category tags.\n" +
		booster.instruction() +
		"SCORING CRITERIA (0.0-1.0):\n" +
		"- 0.8-1.0: the paper's core contribution is squarely on these topics.\n" +
		"- 0.6-0.8: solid, direct improvements related to these topics.\n" +
		"- 0.3-0.6: related work with minor implications for these topics.\n" +
		"- 0.0-0.3: unrelated applications, surveys or other topics.\n\n" +
		"INSTRUCTIONS:\n" +
		"1. Read the [Category], the title and the gist.\n" +
		format +
		"3. Be careful with catchy titles; trust the category and the gist."

	return system, "Here is the list of papers:\n\n" + strings.Join(lines, "\n")
}

func firstSentence(s string) string {
	if i := strings.Index(s, "."); i >= 0 {
		return s[:i]
	}
	return s
}

// shortCategory turns "cs.DC" into "DC".
func shortCategory(cat string) string {
	if i := strings.Index(cat, "."); i >= 0 {
		return cat[i+1:]
	}
	return cat
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
