package certificate

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// VerifyResult classifies the outcome of an offline certificate check.
type VerifyResult string

const (
	ResultValid             VerifyResult = "valid"
	ResultInvalidSignature  VerifyResult = "invalid_signature"
	ResultMalformedManifest VerifyResult = "malformed_manifest"
)

// Verify checks a certificate against a public key using only the data in
// hand. No network access and no access to the signing host is needed.
func Verify(cert *Certificate, pub *ecdsa.PublicKey) (VerifyResult, error) {
	if cert.Manifest.SchemaVersion != SchemaVersion {
		return ResultMalformedManifest, errors.Newf("unknown schema version %d", cert.Manifest.SchemaVersion)
	}
	if cert.Manifest.CertificateID == "" || cert.Manifest.ChainHash == "" {
		return ResultMalformedManifest, errors.New("manifest is missing required fields")
	}

	payload, err := cert.Manifest.CanonicalBytes()
	if err != nil {
		return ResultMalformedManifest, err
	}

	sig, err := base64.StdEncoding.DecodeString(cert.Signature)
	if err != nil {
		return ResultInvalidSignature, errors.Wrap(err, "decode signature")
	}

	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ResultInvalidSignature, errors.New("signature does not match manifest")
	}
	return ResultValid, nil
}

// VerifyFile loads a certificate and public key from disk and verifies
// them.
func VerifyFile(certPath, pubKeyPath string) (VerifyResult, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return ResultMalformedManifest, errors.Wrapf(err, "read certificate %s", certPath)
	}
	var cert Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return ResultMalformedManifest, errors.Wrapf(err, "decode certificate %s", certPath)
	}
	pub, err := LoadPublicKey(pubKeyPath)
	if err != nil {
		return ResultMalformedManifest, err
	}
	return Verify(&cert, pub)
}
