// Package knowledge loads a directory of markdown documents at startup,
// segments each into heading-delimited sections, and answers weighted
// topic queries over them.
//
// The heading-segmentation algorithm is ported directly from the original
// prototype's AcmeCorpKnowledgeEngine._extract_sections
// (original_source/api/agents/knowledge/knowledge_engine.py): walk lines,
// start a new section whenever a line begins with '#', accumulate body
// lines otherwise, flush the final section at EOF. The scoring in Query is
// new — the original used hand-coded keyword-to-section tables per issue
// category rather than a general weighted index — built directly from
// spec §4.6 since no teacher or pack example implements this scoring rule.
package knowledge

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/coremodel"
)

const topK = 3

// Index is the read-only, in-memory corpus built at startup. Reloading
// requires a process restart (spec §4.6).
type Index struct {
	docs []coremodel.KnowledgeDocument
}

// Load reads every file named by fs.List(dir) (filtered to .md) under dir
// and builds an Index. Filenames, with the .md suffix removed, are used as
// document titles/ids.
func Load(fs adapters.FilesystemAdapter, dir string) (*Index, error) {
	names, err := fs.List(dir)
	if err != nil {
		return &Index{}, nil // an absent/unreadable corpus is not fatal; Query just returns nothing
	}

	idx := &Index{}
	for _, name := range names {
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		data, err := fs.Read(strings.TrimRight(dir, "/") + "/" + name)
		if err != nil {
			continue
		}
		doc := coremodel.KnowledgeDocument{
			ID:       strings.TrimSuffix(name, ".md"),
			Title:    strings.TrimSuffix(name, ".md"),
			Filename: name,
			Sections: extractSections(string(data)),
		}
		idx.docs = append(idx.docs, doc)
	}
	sort.Slice(idx.docs, func(i, j int) bool { return idx.docs[i].Filename < idx.docs[j].Filename })
	return idx, nil
}

// extractSections segments markdown content by heading lines, mirroring
// the original's _extract_sections: a new section starts at each line
// beginning with '#'; all following lines (including non-heading ones) are
// that section's body until the next heading or EOF.
func extractSections(content string) []coremodel.KnowledgeSection {
	var sections []coremodel.KnowledgeSection
	currentTitle := "introduction"
	currentID := "introduction"
	var currentLines []string

	flush := func() {
		if len(currentLines) == 0 {
			return
		}
		body := strings.TrimSpace(strings.Join(currentLines, "\n"))
		if body == "" {
			return
		}
		sections = append(sections, coremodel.KnowledgeSection{
			ID:     currentID,
			Title:  currentTitle,
			Body:   body,
			Tokens: tokenize(currentTitle + " " + body),
		})
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			flush()
			heading := strings.TrimLeft(strings.TrimSpace(line), "#")
			heading = strings.TrimSpace(heading)
			currentTitle = heading
			currentID = slug(heading)
			currentLines = []string{line}
			continue
		}
		currentLines = append(currentLines, line)
	}
	flush()

	return sections
}

func slug(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Query ranks sections across all documents by: exact topic match in
// heading (weight 3), topic token overlap with heading (weight 2), token
// overlap with body (weight 1). Returns the top 3, ties broken by document
// filename lexicographic order (spec §4.6).
func (idx *Index) Query(topic string) []coremodel.KnowledgeResult {
	topicTokens := tokenize(topic)
	topicLower := strings.ToLower(strings.TrimSpace(topic))

	var results []coremodel.KnowledgeResult
	for _, doc := range idx.docs {
		for _, sec := range doc.Sections {
			score := scoreSection(topicLower, topicTokens, sec)
			if score <= 0 {
				continue
			}
			results = append(results, coremodel.KnowledgeResult{
				DocID: doc.ID, SectionID: sec.ID, Title: sec.Title, Body: sec.Body, Score: score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func scoreSection(topicLower string, topicTokens []string, sec coremodel.KnowledgeSection) int {
	score := 0
	headingLower := strings.ToLower(sec.Title)

	if topicLower != "" && strings.Contains(headingLower, topicLower) {
		score += 3
	}

	headingTokens := tokenize(sec.Title)
	headingSet := make(map[string]bool, len(headingTokens))
	for _, t := range headingTokens {
		headingSet[t] = true
	}
	bodySet := make(map[string]bool, len(sec.Tokens))
	for _, t := range sec.Tokens {
		bodySet[t] = true
	}

	for _, t := range topicTokens {
		if headingSet[t] {
			score += 2
		} else if bodySet[t] {
			score += 1
		}
	}

	return score
}
