package wt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// MaxPinnedValidity is the longest validity browsers accept for a certificate
// pinned through serverCertificateHashes.
const MaxPinnedValidity = 14 * 24 * time.Hour

// Certificate is a self-signed listener identity.
type Certificate struct {
	TLS         *tls.Config
	Fingerprint string // hex SHA-256 of the DER certificate
	NotAfter    time.Time
}

// NewCertificate mints an ECDSA P-256 certificate for hostname (and always
// localhost). Validity is clamped to MaxPinnedValidity.
func NewCertificate(validity time.Duration, hostname string) (*Certificate, error) {
	if validity <= 0 || validity > MaxPinnedValidity {
		validity = MaxPinnedValidity
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wt: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("wt: generate serial: %w", err)
	}

	subject, names := "huddle", []string{"localhost"}
	if hostname != "" {
		subject = hostname
		if hostname != "localhost" {
			names = append(names, hostname)
		}
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: subject},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              names,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("wt: create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("wt: parse certificate: %w", err)
	}

	sum := sha256.Sum256(der)
	return &Certificate{
		TLS: &tls.Config{Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		}}},
		Fingerprint: hex.EncodeToString(sum[:]),
		NotAfter:    leaf.NotAfter,
	}, nil
}
