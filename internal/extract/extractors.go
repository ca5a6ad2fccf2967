package extract

import "fmt"

// PassthroughExtractor reads a file's bytes as UTF-8 text and returns them
// as a single unpaginated Page. Used for plain text and Markdown, where no
// transformation is needed before chunking.
type PassthroughExtractor struct {
	MethodName string
}

func (p *PassthroughExtractor) Method() string { return p.MethodName }

func (p *PassthroughExtractor) Extract(path string) (*Result, error) {
	data, err := readFile(path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{
		Pages:   []Page{{Number: 0, Content: string(data)}},
		Method:  p.MethodName,
		Success: true,
	}, nil
}

// CodeExtractor reads a source file's bytes as text. The byte content is
// handed to the tree-sitter-backed code chunker downstream (the chunker,
// not the extractor, owns symbol parsing); extraction here is the same
// pass-through as plain text but tagged with its own method name so
// integrity reports can distinguish code documents from prose.
type CodeExtractor struct{}

func (c *CodeExtractor) Method() string { return "code" }

func (c *CodeExtractor) Extract(path string) (*Result, error) {
	data, err := readFile(path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{
		Pages:   []Page{{Number: 0, Content: string(data)}},
		Method:  "code",
		Success: true,
	}, nil
}

// UnsupportedExtractor always fails. PDF and DOCX extraction require a
// parsing library this module does not depend on; registering an
// UnsupportedExtractor keeps those extensions routed to a clear rejection
// reason ("extraction not supported for <path>: ...") instead of silently falling through to
// the plain-text passthrough and producing garbage chunks from binary data.
type UnsupportedExtractor struct{}

func (u *UnsupportedExtractor) Method() string { return "unsupported" }

func (u *UnsupportedExtractor) Extract(path string) (*Result, error) {
	return &Result{
		Success: false,
		Error:   fmt.Sprintf("extraction not supported for %s: register an external plug-in Extractor for this format", path),
	}, nil
}
