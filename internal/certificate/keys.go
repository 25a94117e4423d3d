package certificate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrSigningUnavailable marks any key handling failure. The caller keeps
// the audit log and reports the job without a certificate instead of
// failing the wipe.
var ErrSigningUnavailable = errors.New("signing unavailable")

// KeyPair holds the ECDSA P-256 identity used to sign certificates.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// Fingerprint identifies the signer: the leading 16 hex characters of the
// SHA-256 of the DER-encoded public key.
func (k *KeyPair) Fingerprint() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "encode public key"), ErrSigningUnavailable)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16], nil
}

// LoadOrGenerate returns the key pair at the configured paths, creating
// and persisting a fresh one on first use. The private key file is owner
// read-write only; the public key is world readable for distribution to
// verifiers.
func LoadOrGenerate(privatePath, publicPath string) (*KeyPair, error) {
	if _, err := os.Stat(privatePath); err == nil {
		return loadKeyPair(privatePath)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "generate signing key"), ErrSigningUnavailable)
	}
	if err := saveKeyPair(priv, privatePath, publicPath); err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

func loadKeyPair(privatePath string) (*KeyPair, error) {
	data, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read private key %s", privatePath), ErrSigningUnavailable)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.Mark(errors.Newf("%s is not a PEM private key", privatePath), ErrSigningUnavailable)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse private key %s", privatePath), ErrSigningUnavailable)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.Mark(errors.Newf("%s is not an ECDSA key", privatePath), ErrSigningUnavailable)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

func saveKeyPair(priv *ecdsa.PrivateKey, privatePath, publicPath string) error {
	if err := os.MkdirAll(filepath.Dir(privatePath), 0o700); err != nil {
		return errors.Mark(errors.Wrap(err, "create key dir"), ErrSigningUnavailable)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "encode private key"), ErrSigningUnavailable)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privatePath, privPEM, 0o600); err != nil {
		return errors.Mark(errors.Wrapf(err, "write private key %s", privatePath), ErrSigningUnavailable)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "encode public key"), ErrSigningUnavailable)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(publicPath, pubPEM, 0o644); err != nil {
		return errors.Mark(errors.Wrapf(err, "write public key %s", publicPath), ErrSigningUnavailable)
	}
	return nil
}

// LoadPublicKey reads a PEM public key for offline verification.
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read public key %s", path)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.Newf("%s is not a PEM public key", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "parse public key %s", path)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.Newf("%s is not an ECDSA public key", path)
	}
	return pub, nil
}
