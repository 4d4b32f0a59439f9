// Package reindex keeps a strand's search index in step with its content.
//
// A reindex runs up to four stages in order:
//
//  1. metadata update (always; a failure fails the run)
//  2. block segmentation and replacement
//  3. embedding refresh
//  4. tag bubbling
//
// Stages 3 and 4 are enrichment: when their collaborator is missing or
// returns an error the stage is skipped and a warning is recorded on the
// result. Service decides whether a request runs inline or as a
// reindex-strand job.
package reindex
