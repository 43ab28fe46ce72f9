package conversation

import "strings"

// SubmitRequest is the raw body of a submission. Fields are left untyped so
// that non-string values can be rejected with a precise reason.
type SubmitRequest struct {
	Author  any `json:"author"`
	Content any `json:"content"`
}

// Validation reasons returned to callers.
const (
	ReasonRequired     = `fields "author" and "content" are required`
	ReasonNotStrings   = `fields "author" and "content" must be strings`
	ReasonEmptyContent = "message content cannot be empty"
	ReasonEmptyAuthor  = "message author cannot be empty"
)

// Validate checks a submission. The first violation wins.
func Validate(req SubmitRequest) error {
	if missing(req.Author) || missing(req.Content) {
		return &ValidationError{Reason: ReasonRequired}
	}
	author, okAuthor := req.Author.(string)
	content, okContent := req.Content.(string)
	if !okAuthor || !okContent {
		return &ValidationError{Reason: ReasonNotStrings}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: ReasonEmptyContent}
	}
	if strings.TrimSpace(author) == "" {
		return &ValidationError{Reason: ReasonEmptyAuthor}
	}
	return nil
}

// Sanitize trims both fields of a validated submission.
func Sanitize(req SubmitRequest) (author, content string) {
	a, _ := req.Author.(string)
	c, _ := req.Content.(string)
	return strings.TrimSpace(a), strings.TrimSpace(c)
}

// missing treats absent, null, empty-string, false and zero values as
// not provided.
func missing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	}
	return false
}
