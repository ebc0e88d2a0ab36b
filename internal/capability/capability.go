// Package capability defines the remote model capabilities the pipelines
// depend on: vision-language table extraction for scanned documents, and
// text-to-SQL generation for the query pipeline. The interfaces are small on
// purpose so tests can substitute deterministic fakes and the rest of the
// code never touches an HTTP client directly.
package capability

import "context"

// Image is one page or picture handed to the table extractor.
type Image struct {
	// MIME is the payload content type, e.g. "image/jpeg".
	MIME string
	// Data is the raw encoded image.
	Data []byte
}

// TableExtractor reads tabular data out of images.
//
// The returned text is plain CSV: markdown fences and prose from the
// underlying model reply are already stripped by the implementation. An empty
// or non-tabular reply is the caller's problem to classify.
type TableExtractor interface {
	ExtractTables(ctx context.Context, images []Image) (string, error)
}

// GenerateRequest carries everything the text-to-SQL capability needs for one
// generation call.
type GenerateRequest struct {
	// Question is the user's natural-language question.
	Question string
	// Schema is the rendered description of the tables the session owns.
	Schema string
	// Modify signals the caller explicitly asked for a data-modifying
	// statement; without it the generator is steered toward reads.
	Modify bool

	// PriorSQL and DBError are set on the repair call only: the statement
	// that failed and the database error it produced.
	PriorSQL string
	DBError  string
}

// SQLGenerator turns a schema-grounded question into one SQL statement.
//
// The returned statement has code fences stripped and ends without a
// terminator; validation of what it actually does stays with the caller.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, req GenerateRequest) (string, error)
}
