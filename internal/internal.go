package internal

import (
	"crypto/tls"
	"fmt"

	"github.com/dmksnnk/gamebroker/internal/cert"
	http3platform "github.com/dmksnnk/gamebroker/internal/platform/http3"
	"github.com/quic-go/quic-go"
)

// NewDialer creates a new HTTP/3 dialer with optional CA certificate.
// The dialer's TLS config is also suitable for connecting to the broker proxy.
func NewDialer(caCert string, quicConf *quic.Config) (*http3platform.HTTP3Dialer, error) {
	dialer := &http3platform.HTTP3Dialer{
		TLSConfig:  &tls.Config{},
		QUICConfig: quicConf,
	}
	if caCert != "" {
		ca, err := cert.LoadCACert(caCert)
		if err != nil {
			return nil, fmt.Errorf("load CA certificate: %w", err)
		}
		dialer.TLSConfig = cert.ClientTLSConfig(ca)
	}

	return dialer, nil
}
