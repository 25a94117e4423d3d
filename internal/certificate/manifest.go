package certificate

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// SchemaVersion identifies the manifest layout. Verifiers refuse versions
// they do not know rather than guessing at field meanings.
const SchemaVersion = 1

// ToolName and ToolVersion identify the software that produced a
// certificate. They are part of the signed payload.
const (
	ToolName    = "veriwipe"
	ToolVersion = "1.0.0"
)

// MethodRecord captures one sanitization attempt as it will appear on the
// certificate: what was tried and how it ended.
type MethodRecord struct {
	Method string `json:"method"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// DeviceSummary is the certificate's view of the sanitized device. The
// fingerprint is salted, so the summary does not leak a stable hardware
// identifier.
type DeviceSummary struct {
	Fingerprint string `json:"fingerprint"`
	Model       string `json:"model"`
	Bus         string `json:"bus"`
	SizeBytes   uint64 `json:"size_bytes"`
	Rotational  bool   `json:"rotational"`
}

// Manifest is the signed body of a sanitization certificate. Field order
// is fixed; canonical bytes are the compact JSON encoding of this struct,
// so reordering or reformatting invalidates the signature.
type Manifest struct {
	SchemaVersion     int            `json:"schema_version"`
	CertificateID     string         `json:"certificate_id"`
	JobID             string         `json:"job_id"`
	Device            DeviceSummary  `json:"device"`
	Methods           []MethodRecord `json:"methods"`
	NISTClass         string         `json:"nist_class"`
	Outcome           string         `json:"outcome"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	PreSampleHash     string         `json:"pre_sample_hash,omitempty"`
	PostSampleHash    string         `json:"post_sample_hash,omitempty"`
	ChainHash         string         `json:"chain_hash"`
	EntryCount        int            `json:"entry_count"`
	SignerFingerprint string         `json:"signer_fingerprint"`
	ToolName          string         `json:"tool_name"`
	ToolVersion       string         `json:"tool_version"`
}

// CanonicalBytes returns the exact byte sequence the signature covers.
func (m *Manifest) CanonicalBytes() ([]byte, error) {
	norm := *m
	norm.StartedAt = norm.StartedAt.UTC().Truncate(time.Second)
	norm.FinishedAt = norm.FinishedAt.UTC().Truncate(time.Second)
	b, err := json.Marshal(&norm)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize manifest")
	}
	return b, nil
}

// Certificate is the complete on-disk artifact: the signed manifest, its
// signature, and optional unsigned annotations such as an external anchor
// reference added after issuance.
type Certificate struct {
	Manifest  Manifest `json:"manifest"`
	Signature string   `json:"signature"`
	AnchorRef string   `json:"anchor_ref,omitempty"`
}
