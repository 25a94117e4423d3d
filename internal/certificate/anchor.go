package certificate

// Anchorer publishes a certificate reference to an external immutability
// anchor (a transparency log, a ledger, a WORM store). Implementations live
// outside this module; the interface fixes the attachment point.
type Anchorer interface {
	Anchor(cert *Certificate) (ref string, err error)
}

// Annotate runs the anchorer and records its reference on the certificate.
// The reference sits outside the signed payload, so annotation never
// invalidates the signature.
func Annotate(cert *Certificate, a Anchorer) error {
	ref, err := a.Anchor(cert)
	if err != nil {
		return err
	}
	cert.AnchorRef = ref
	return nil
}
