// Package tls provides the STARTTLS configuration of the local receiver.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// Source reports where a certificate came from.
type Source string

const (
	SourceFile       Source = "file"
	SourceSelfSigned Source = "self-signed"
)

const certValidity = 365 * 24 * time.Hour

// SelfSignedPEM generates an ECDSA P-256 certificate for hostname, valid for
// one year, and returns it PEM encoded. The SANs always include localhost,
// 127.0.0.1 and ::1.
func SelfSignedPEM(hostname string) (certPEM, keyPEM []byte, err error) {
	if hostname == "" {
		hostname = "localhost"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	dnsNames := []string{hostname}
	if hostname != "localhost" {
		dnsNames = append(dnsNames, "localhost")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   hostname,
			Organization: []string{"ses-forwarder"},
		},
		NotBefore: now,
		NotAfter:  now.Add(certValidity),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		DNSNames:    dnsNames,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// ServerConfig loads the key pair at certFile and keyFile, or generates a
// self-signed certificate for hostname when either path is empty. No files
// are written.
func ServerConfig(certFile, keyFile, hostname string) (*tls.Config, Source, error) {
	var (
		cert   tls.Certificate
		source Source
	)

	if certFile != "" && keyFile != "" {
		// Validate that files exist before attempting to load
		if _, err := os.Stat(certFile); err != nil {
			return nil, "", fmt.Errorf("certificate file not found: %w", err)
		}
		if _, err := os.Stat(keyFile); err != nil {
			return nil, "", fmt.Errorf("key file not found: %w", err)
		}

		loaded, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		cert, source = loaded, SourceFile
	} else {
		certPEM, keyPEM, err := SelfSignedPEM(hostname)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate self-signed cert: %w", err)
		}
		generated, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create X509 key pair: %w", err)
		}
		cert, source = generated, SourceSelfSigned
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, source, nil
}
