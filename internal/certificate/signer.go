package certificate

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"veriwipe/internal/auditlog"
)

// Signer issues signed certificates. One signer serves the whole process;
// issuance is serialized so certificate files never interleave.
type Signer struct {
	mu     sync.Mutex
	keys   *KeyPair
	dir    string
	logger *zap.Logger
}

func NewSigner(keys *KeyPair, dir string, logger *zap.Logger) *Signer {
	return &Signer{keys: keys, dir: dir, logger: logger}
}

// Issue verifies the job's audit chain, binds its head hash into the
// manifest, signs the canonical bytes, and persists the certificate.
// A chain that fails verification is never certified.
func (s *Signer) Issue(m Manifest, chain *auditlog.Chain) (*Certificate, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys == nil {
		return nil, "", errors.Mark(errors.New("no signing key loaded"), ErrSigningUnavailable)
	}
	if err := chain.Verify(); err != nil {
		return nil, "", err
	}

	m.SchemaVersion = SchemaVersion
	m.ToolName = ToolName
	m.ToolVersion = ToolVersion
	m.ChainHash = chain.HeadHash()
	m.EntryCount = chain.Len()

	fp, err := s.keys.Fingerprint()
	if err != nil {
		return nil, "", err
	}
	m.SignerFingerprint = fp

	payload, err := m.CanonicalBytes()
	if err != nil {
		return nil, "", errors.Mark(err, ErrSigningUnavailable)
	}

	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, s.keys.Private, digest[:])
	if err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "sign manifest"), ErrSigningUnavailable)
	}

	cert := &Certificate{
		Manifest:  m,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}

	path, err := s.write(cert)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("certificate issued",
		zap.String("certificate_id", m.CertificateID),
		zap.String("job_id", m.JobID),
		zap.String("path", path))
	return cert, path, nil
}

func (s *Signer) write(cert *Certificate) (string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "create certificate dir %s", s.dir), ErrSigningUnavailable)
	}
	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "encode certificate"), ErrSigningUnavailable)
	}
	path := filepath.Join(s.dir, cert.Manifest.CertificateID+".cert.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "write certificate %s", path), ErrSigningUnavailable)
	}
	return path, nil
}
