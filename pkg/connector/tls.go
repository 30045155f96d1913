package connector

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"

	"github.com/kestrelgames/netpipe/pkg/errors"
)

// CertValidationPolicy selects how the TLS stage validates the peer's
// certificate.
type CertValidationPolicy uint8

const (
	// CertPolicyDefaultChain runs the standard chain validation against the
	// system root pool.
	CertPolicyDefaultChain CertValidationPolicy = iota
	// CertPolicyAcceptAll skips validation entirely. Development servers with
	// self-signed certificates only.
	CertPolicyAcceptAll
	// CertPolicyPinnedFingerprint accepts exactly one leaf certificate,
	// identified by the SHA-256 of its DER encoding.
	CertPolicyPinnedFingerprint
)

type TLSStageParams struct {
	ServerName string
	Policy     CertValidationPolicy

	// PinnedFingerprint is the expected SHA-256 leaf fingerprint when Policy
	// is CertPolicyPinnedFingerprint.
	PinnedFingerprint [sha256.Size]byte

	MinVersion uint16
	MaxVersion uint16
}

// TLSStage wraps an established socket in a TLS client stream and performs
// the handshake before handing the stream onward.
type TLSStage struct {
	params TLSStageParams
}

func CreateTLSStage(params TLSStageParams) *TLSStage {
	if params.MinVersion == 0 {
		params.MinVersion = tls.VersionTLS12
	}

	return &TLSStage{
		params: params,
	}
}

func (s *TLSStage) Name() string {
	return "tls"
}

func (s *TLSStage) Connect(ctx context.Context, prev Stream) (Stream, error) {
	netConn, ok := prev.(net.Conn)
	if !ok {
		return nil, &errors.InvalidStageInput{StageName: s.Name(), Expected: "net.Conn"}
	}

	cfg := &tls.Config{
		ServerName: s.params.ServerName,
		MinVersion: s.params.MinVersion,
		MaxVersion: s.params.MaxVersion,
	}

	switch s.params.Policy {
	case CertPolicyAcceptAll:
		cfg.InsecureSkipVerify = true
	case CertPolicyPinnedFingerprint:
		// Chain validation is replaced wholesale by the fingerprint check;
		// InsecureSkipVerify only disables the default verifier.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = s.verifyPinnedFingerprint
	case CertPolicyDefaultChain:
	}

	tlsConn := tls.Client(netConn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	return tlsConn, nil
}

func (s *TLSStage) verifyPinnedFingerprint(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return &errors.FingerprintMismatch{
			ExpectedFingerprint: hex.EncodeToString(s.params.PinnedFingerprint[:]),
			ActualFingerprint:   "(no certificate presented)",
		}
	}

	actual := sha256.Sum256(rawCerts[0])
	if actual != s.params.PinnedFingerprint {
		return &errors.FingerprintMismatch{
			ExpectedFingerprint: hex.EncodeToString(s.params.PinnedFingerprint[:]),
			ActualFingerprint:   hex.EncodeToString(actual[:]),
		}
	}

	return nil
}
