package verifier

import "encoding/json"

// SignatureBlock declares who signed an envelope and over what.
type SignatureBlock struct {
	KeyRef      string `json:"keyRef"`
	Address     string `json:"address"`
	Alg         string `json:"alg"`
	PayloadHash string `json:"payloadHash"`
	Signature   string `json:"signature"`
}

// Envelope is the signed unit of a content mutation. Metadata and Event are
// opaque string-keyed bags; required sub-fields (writerType, writerId,
// idempotencyKey) are validated at the boundary rather than trusted
// implicitly.
type Envelope struct {
	Operation      string          `json:"operation"`
	Domain         string          `json:"domain"`
	CanonicalPath  string          `json:"canonicalPath"`
	ContentPayload json.RawMessage `json:"contentPayload"`
	Metadata       map[string]any  `json:"metadata"`
	Event          map[string]any  `json:"event"`
	Signature      SignatureBlock  `json:"signature"`
}

// WriterType returns metadata.writerType, or "" when absent.
func (e *Envelope) WriterType() string {
	return stringField(e.Metadata, "writerType")
}

// WriterID returns metadata.writerId, or "" when absent.
func (e *Envelope) WriterID() string {
	return stringField(e.Metadata, "writerId")
}

// IdempotencyKey returns event.idempotencyKey, or "" when absent.
func (e *Envelope) IdempotencyKey() string {
	return stringField(e.Event, "idempotencyKey")
}

// canonicalContent is the envelope minus its signature block: exactly the
// fields the payload hash covers. Any modification to operation, domain,
// path, content, metadata, or the event invalidates the signature.
func (e *Envelope) canonicalContent() map[string]any {
	return map[string]any{
		"operation":      e.Operation,
		"domain":         e.Domain,
		"canonicalPath":  e.CanonicalPath,
		"contentPayload": e.ContentPayload,
		"metadata":       e.Metadata,
		"event":          e.Event,
	}
}

// Result is the outcome of signature verification. Expected failure modes
// come back as OK=false with a human-readable reason, not as errors. Callers
// must treat any non-OK result as "write rejected", never partially applied.
type Result struct {
	OK     bool
	Reason string
}

func ok() Result {
	return Result{OK: true}
}

func fail(reason string) Result {
	return Result{OK: false, Reason: reason}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
