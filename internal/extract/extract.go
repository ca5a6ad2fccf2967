// Package extract turns a file on disk into plain-text pages ready for
// chunking. Dispatch is by file extension through a Registry rather than
// duck-typed subclassing, so adding a format means registering one more
// Extractor rather than growing a type-switch.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Page is one page of extracted text. Plain text and source files produce a
// single Page; paginated formats (PDF) would produce one Page per page.
type Page struct {
	Number  int // 1-indexed; 0 for non-paginated formats
	Content string
}

// Result is what an Extractor returns for one file.
type Result struct {
	Pages   []Page
	Method  string // free-form tag recorded on the Document (extraction_method)
	Success bool
	Error   string
}

// Extractor turns a file's bytes into Pages. Extractors must never panic;
// the Registry recovers at the call site and converts a panic into a
// Success=false Result so one malformed file cannot take down a worker.
type Extractor interface {
	// Extract reads path and returns its extracted content.
	Extract(path string) (*Result, error)

	// Method names this extractor for the Document.extraction_method tag.
	Method() string
}

// Registry dispatches to an Extractor by file extension.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry returns an empty Registry. Use Register to add extractors and
// RegisterDefault to set the fallback used for unregistered extensions.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Register associates ext (e.g. ".md", case-insensitive) with e.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// RegisterDefault sets the extractor used when no registered extension
// matches path.
func (r *Registry) RegisterDefault(e Extractor) {
	r.fallback = e
}

// Extract looks up the extractor for path's extension and runs it, recovering
// any panic into a Success=false Result so the pipeline's chunk stage can
// log and skip the file rather than crash.
func (r *Registry) Extract(path string) (result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = &Result{Success: false, Error: fmt.Sprintf("extractor panicked: %v", p)}
			err = nil
		}
	}()

	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		e = r.fallback
	}
	if e == nil {
		return &Result{Success: false, Error: fmt.Sprintf("no extractor registered for %s", path)}, nil
	}
	return e.Extract(path)
}

// NewDefaultRegistry wires the reference extractors: plain text and
// Markdown pass bytes through untouched, source files go through the
// tree-sitter-backed code extractor, and PDF/DOCX are stubbed out as
// genuinely out of scope (external plug-ins would register their own
// Extractor under those extensions instead).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	md := &PassthroughExtractor{MethodName: "markdown"}
	r.Register(".md", md)
	r.Register(".markdown", md)

	code := &CodeExtractor{}
	for _, ext := range []string{
		".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".c", ".h",
		".cpp", ".cc", ".hpp", ".rs", ".rb", ".php", ".cs", ".swift", ".kt",
	} {
		r.Register(ext, code)
	}

	unsupported := &UnsupportedExtractor{}
	r.Register(".pdf", unsupported)
	r.Register(".docx", unsupported)

	r.RegisterDefault(&PassthroughExtractor{MethodName: "text"})
	return r
}

// readFile is shared by the reference extractors below.
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
