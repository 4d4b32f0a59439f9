package reindex

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// stringList accepts either a YAML sequence or a comma-separated scalar.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, part := range strings.Split(value.Value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*s = out
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := value.Decode(&out); err != nil {
			return err
		}
		*s = out
		return nil
	}
	return fmt.Errorf("line %d: expected a list or a comma-separated string", value.Line)
}

type frontmatter struct {
	Title      string     `yaml:"title"`
	Difficulty string     `yaml:"difficulty"`
	Status     string     `yaml:"status"`
	Subjects   stringList `yaml:"subjects"`
	Topics     stringList `yaml:"topics"`
	Tags       stringList `yaml:"tags"`
	Taxonomy   struct {
		Subjects stringList `yaml:"subjects"`
		Topics   stringList `yaml:"topics"`
	} `yaml:"taxonomy"`
}

// SplitFrontmatter separates a leading "---" delimited YAML block from the
// body. Content without frontmatter is returned whole as the body.
func SplitFrontmatter(content []byte) (front, body []byte) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	first, rest, ok := cutLine(content)
	if !ok || strings.TrimRight(string(first), " \t") != "---" {
		return nil, content
	}

	offset := len(content) - len(rest)
	for len(rest) > 0 {
		line, next, _ := cutLine(rest)
		trimmed := strings.TrimRight(string(line), " \t")
		if trimmed == "---" || trimmed == "..." {
			end := len(content) - len(rest)
			return content[offset:end], next
		}
		rest = next
	}
	return nil, content
}

// cutLine returns the first line of b without its terminator.
func cutLine(b []byte) (line, rest []byte, found bool) {
	line, rest, found = bytes.Cut(b, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r")), rest, found
}

// ParseMetadata reads the frontmatter of a strand. When the frontmatter has
// no title the first heading of the body is used.
func ParseMetadata(content []byte) (Metadata, []byte, error) {
	front, body := SplitFrontmatter(content)

	var fm frontmatter
	if len(bytes.TrimSpace(front)) > 0 {
		if err := yaml.Unmarshal(front, &fm); err != nil {
			return Metadata{}, body, fmt.Errorf("reindex: parse frontmatter: %w", err)
		}
	}

	md := Metadata{
		Title:      strings.TrimSpace(fm.Title),
		Difficulty: strings.ToLower(strings.TrimSpace(fm.Difficulty)),
		Status:     strings.ToLower(strings.TrimSpace(fm.Status)),
		Subjects:   normalizeTerms(append(fm.Subjects, fm.Taxonomy.Subjects...)),
		Topics:     normalizeTerms(append(fm.Topics, fm.Taxonomy.Topics...)),
		Tags:       normalizeTags(fm.Tags),
	}
	if md.Title == "" {
		md.Title = firstHeading(body)
	}
	return md, body, nil
}

func firstHeading(body []byte) string {
	for _, b := range Segment("", body) {
		if b.Kind == BlockHeading {
			return b.Text
		}
	}
	return ""
}

// normalizeTerms trims and de-duplicates while keeping first-seen order.
func normalizeTerms(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// normalizeTags lower-cases tags and strips a leading '#'.
func normalizeTags(in []string) []string {
	tags := make([]string, 0, len(in))
	for _, t := range in {
		tags = append(tags, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#")))
	}
	return normalizeTerms(tags)
}
