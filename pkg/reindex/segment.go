package reindex

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	listItemRe = regexp.MustCompile(`^\s{0,3}(?:[-*+]|\d{1,9}[.)])\s+`)
	quoteRe    = regexp.MustCompile(`^\s{0,3}>\s?`)
	fenceRe    = regexp.MustCompile("^\\s{0,3}(```+|~~~+)")
	tagRe      = regexp.MustCompile(`(?:^|[\s(\[])#([\p{L}][\p{L}\p{N}_/-]*)`)
)

type segmenter struct {
	strandPath string
	blocks     []Block
	kind       BlockKind
	lines      []string
}

// Segment splits a markdown body into blocks. Fenced code is kept verbatim
// and never contributes tags.
func Segment(strandPath string, body []byte) []Block {
	s := &segmenter{strandPath: strandPath}
	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := fenceRe.FindStringSubmatch(line); m != nil {
			s.flush()
			fence := m[1]
			var code []string
			for i++; i < len(lines); i++ {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
					break
				}
				code = append(code, lines[i])
			}
			s.emit(BlockCode, 0, strings.Join(code, "\n"))
			continue
		}

		if strings.TrimSpace(line) == "" {
			s.flush()
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			s.flush()
			s.emit(BlockHeading, len(m[1]), m[2])
			continue
		}

		switch {
		case quoteRe.MatchString(line):
			s.add(BlockQuote, quoteRe.ReplaceAllString(line, ""))
		case listItemRe.MatchString(line):
			s.add(BlockList, strings.TrimSpace(line))
		case s.kind == BlockList && strings.HasPrefix(line, "  "):
			s.lines = append(s.lines, strings.TrimSpace(line))
		default:
			s.add(BlockParagraph, strings.TrimSpace(line))
		}
	}
	s.flush()
	return s.blocks
}

// add appends line to the open block, closing it first if kind differs.
func (s *segmenter) add(kind BlockKind, line string) {
	if s.kind != kind {
		s.flush()
		s.kind = kind
	}
	s.lines = append(s.lines, line)
}

func (s *segmenter) flush() {
	if s.kind == "" {
		return
	}
	sep := "\n"
	if s.kind == BlockParagraph {
		sep = " "
	}
	s.emit(s.kind, 0, strings.Join(s.lines, sep))
	s.kind = ""
	s.lines = nil
}

func (s *segmenter) emit(kind BlockKind, level int, text string) {
	idx := len(s.blocks)
	b := Block{
		ID:         BlockID(s.strandPath, idx, kind, text),
		StrandPath: s.strandPath,
		Index:      idx,
		Kind:       kind,
		Level:      level,
		Text:       text,
		WordCount:  len(strings.Fields(text)),
	}
	if kind != BlockCode {
		b.Tags = ExtractTags(text)
	}
	s.blocks = append(s.blocks, b)
}

// BlockID derives a stable identifier from a block's position and content.
func BlockID(strandPath string, index int, kind BlockKind, text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%s\x00%d\x00%s\x00%s", strandPath, index, kind, text)))
}

// ExtractTags returns the inline #tags of text, lower-cased and
// de-duplicated in order of appearance.
func ExtractTags(text string) []string {
	matches := tagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	raw := make([]string, 0, len(matches))
	for _, m := range matches {
		raw = append(raw, m[1])
	}
	return normalizeTags(raw)
}
