package core

import "sort"

// JobType identifies the kind of work a job performs.
// The set is closed: submissions for anything outside it are rejected.
type JobType string

// Generation tasks.
const (
	TypeGenerateFlashcards  JobType = "generate-flashcards"
	TypeGenerateQuiz        JobType = "generate-quiz"
	TypeGenerateGlossary    JobType = "generate-glossary"
	TypeGenerateSummary     JobType = "generate-summary"
	TypeGenerateSuggestions JobType = "generate-suggestions"
)

// Categorization and tagging.
const (
	TypeCategorizeStrand   JobType = "categorize-strand"
	TypeReclassifyTaxonomy JobType = "reclassify-taxonomy"
	TypeBlockTagStrand     JobType = "block-tag-strand"
	TypeBulkTag            JobType = "bulk-tag"
)

// Indexing and publishing.
const (
	TypeReindexStrand     JobType = "reindex-strand"
	TypeReindexBlocks     JobType = "reindex-blocks"
	TypeRefreshEmbeddings JobType = "refresh-embeddings"
	TypePublishStrand     JobType = "publish-strand"
)

// Import and export.
const (
	TypeImportMarkdown JobType = "import-markdown"
	TypeImportObsidian JobType = "import-obsidian"
	TypeImportNotion   JobType = "import-notion"
	TypeExportMarkdown JobType = "export-markdown"
	TypeExportZip      JobType = "export-zip"
	TypeExportPDF      JobType = "export-pdf"
)

var knownJobTypes = map[JobType]struct{}{
	TypeGenerateFlashcards:  {},
	TypeGenerateQuiz:        {},
	TypeGenerateGlossary:    {},
	TypeGenerateSummary:     {},
	TypeGenerateSuggestions: {},
	TypeCategorizeStrand:    {},
	TypeReclassifyTaxonomy:  {},
	TypeBlockTagStrand:      {},
	TypeBulkTag:             {},
	TypeReindexStrand:       {},
	TypeReindexBlocks:       {},
	TypeRefreshEmbeddings:   {},
	TypePublishStrand:       {},
	TypeImportMarkdown:      {},
	TypeImportObsidian:      {},
	TypeImportNotion:        {},
	TypeExportMarkdown:      {},
	TypeExportZip:           {},
	TypeExportPDF:           {},
}

// KnownJobType reports whether t belongs to the job type enumeration.
func KnownJobType(t JobType) bool {
	_, ok := knownJobTypes[t]
	return ok
}

// JobTypes returns every known job type in lexical order.
func JobTypes() []JobType {
	out := make([]JobType, 0, len(knownJobTypes))
	for t := range knownJobTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t JobType) String() string { return string(t) }
