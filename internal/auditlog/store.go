package auditlog

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// logFile is the on-disk form of one job's chain.
type logFile struct {
	JobID   string  `json:"job_id"`
	Head    string  `json:"head"`
	Entries []Entry `json:"entries"`
}

// Store persists one audit chain per job as a JSON document. Directories
// are created owner-only; log files are owner read-write so evidence from
// a root-run tool is not world readable.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".audit.json")
}

// Save writes the chain for a job, replacing any previous snapshot. The
// write goes through a temporary file and rename so a crash never leaves a
// half-written log behind.
func (s *Store) Save(jobID string, c *Chain) (string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", errors.Wrapf(err, "create audit log dir %s", s.dir)
	}

	doc := logFile{
		JobID:   jobID,
		Head:    c.HeadHash(),
		Entries: c.Entries(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode audit log")
	}

	dest := s.path(jobID)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "write audit log %s", tmp)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "finalize audit log %s", dest)
	}
	return dest, nil
}

// Load reads a persisted chain and verifies every link before returning
// it. A log that fails verification is returned alongside the error so
// callers can still inspect it.
func (s *Store) Load(jobID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		return nil, errors.Wrapf(err, "read audit log for job %s", jobID)
	}
	var doc logFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode audit log for job %s", jobID)
	}
	if err := VerifyChain(doc.Entries, doc.Head); err != nil {
		return doc.Entries, err
	}
	return doc.Entries, nil
}
