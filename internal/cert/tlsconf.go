package cert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
)

// SelfSigned creates a new CA and a server certificate signed by it
// for the given domains and IP addresses.
// Returns the CA, so clients can trust it, and the server certificate.
func SelfSigned(domains []string, ips []net.IP) (*x509.Certificate, tls.Certificate, error) {
	ca, caKey, err := NewCA()
	if err != nil {
		return nil, tls.Certificate{}, fmt.Errorf("create CA: %w", err)
	}

	srvKey, err := NewPrivateKey()
	if err != nil {
		return nil, tls.Certificate{}, fmt.Errorf("create server private key: %w", err)
	}

	srvCert, err := signServerCert(ca, caKey, &srvKey.PublicKey, domains, ips)
	if err != nil {
		return nil, tls.Certificate{}, fmt.Errorf("create server cert: %w", err)
	}

	return ca, tls.Certificate{
		Certificate: [][]byte{srvCert},
		PrivateKey:  srvKey,
	}, nil
}

// ClientTLSConfig returns a TLS config trusting the given CA.
func ClientTLSConfig(ca *x509.Certificate, nextProtos ...string) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ca)

	return &tls.Config{
		RootCAs:    pool,
		NextProtos: nextProtos,
	}
}

// LoadCACert loads a PEM encoded CA certificate from a file.
func LoadCACert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("invalid CA certificate")
	}

	ca, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	return ca, nil
}

// WriteCACert writes a PEM encoded CA certificate to a file.
func WriteCACert(path string, ca *x509.Certificate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: ca.Raw}); err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}

	return nil
}
