// Package security defines the pipeline's pre-extraction content scanner.
// No concrete scanner ships in this module; NoOpScanner is the default so
// the pipeline runs without one configured, and a deployment can plug in a
// real implementation (malware scanning, secret detection, policy checks)
// behind the same interface.
package security

// Name identifies a Scanner for the "security: <name>" rejection reason
// recorded on a rejected ProgressRecord.
type Name = string

// Scanner inspects a file before extraction runs. Returning ok=false rejects
// the file: the chunk stage never reaches the extractor for it.
type Scanner interface {
	// Scan inspects path and reports whether it may proceed to extraction.
	// reason is recorded in the ledger's error message when ok is false.
	Scan(path string) (ok bool, reason string, err error)

	// Name identifies this scanner for the "security: <name>" tag.
	Name() Name
}

// NoOpScanner allows every file through. It is the default Scanner so the
// pipeline is fully functional with no security collaborator configured.
type NoOpScanner struct{}

func (NoOpScanner) Scan(path string) (bool, string, error) { return true, "", nil }

func (NoOpScanner) Name() Name { return "noop" }

var _ Scanner = NoOpScanner{}
