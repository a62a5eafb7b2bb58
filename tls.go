// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// Store types accepted for key and trust stores.
const (
	StoreTypePEM    = "PEM"
	StoreTypePKCS12 = "PKCS12"
)

func storeType(t string) (string, error) {
	switch strings.ToUpper(t) {
	case "", StoreTypePEM:
		return StoreTypePEM, nil
	case StoreTypePKCS12, "P12", "PFX":
		return StoreTypePKCS12, nil
	default:
		return "", fmt.Errorf("unsupported store type %q", t)
	}
}

// loadKeyStore reads a certificate chain and its private key. A PEM key
// store holds both in one file.
func loadKeyStore(path, password, typ string) (tls.Certificate, error) {
	typ, err := storeType(typ)
	if err != nil {
		return tls.Certificate{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}
	if typ == StoreTypePEM {
		return tls.X509KeyPair(data, data)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode %s: %w", path, err)
	}
	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}
	return tls.X509KeyPair(pemData, pemData)
}

// loadTrustStore reads the CA certificates used to verify the peer.
func loadTrustStore(path, password, typ string) (*x509.CertPool, error) {
	typ, err := storeType(typ)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if typ == StoreTypePKCS12 {
		blocks, err := pkcs12.ToPEM(data, password)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		data = nil
		for _, b := range blocks {
			if b.Type == "CERTIFICATE" {
				data = append(data, pem.EncodeToMemory(b)...)
			}
		}
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

// serverTLSConfig builds the acceptor side configuration. A key store is
// mandatory.
func serverTLSConfig(t TLSProperties) (*tls.Config, error) {
	if t.KeyStore == "" {
		return nil, fmt.Errorf("%s is required", PropKeyStore)
	}
	cert, err := loadKeyStore(t.KeyStore, t.KeyStorePassword, t.KeyStoreType)
	if err != nil {
		return nil, fmt.Errorf("key store: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if t.TrustStore != "" {
		if cfg.ClientCAs, err = loadTrustStore(t.TrustStore, t.TrustStorePassword, t.TrustStoreType); err != nil {
			return nil, fmt.Errorf("trust store: %w", err)
		}
	}
	if t.NeedClientAuth {
		if cfg.ClientCAs == nil {
			return nil, fmt.Errorf("%s requires %s", PropNeedClientAuth, PropTrustStore)
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// clientTLSConfig builds the dialling side configuration for the host in
// uri. Without a trust store the system roots are used.
func clientTLSConfig(t TLSProperties, uri string) (*tls.Config, error) {
	u, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		ServerName: u.Hostname(),
		MinVersion: tls.VersionTLS12,
	}
	if t.TrustStore != "" {
		if cfg.RootCAs, err = loadTrustStore(t.TrustStore, t.TrustStorePassword, t.TrustStoreType); err != nil {
			return nil, fmt.Errorf("trust store: %w", err)
		}
	}
	if t.KeyStore != "" {
		cert, err := loadKeyStore(t.KeyStore, t.KeyStorePassword, t.KeyStoreType)
		if err != nil {
			return nil, fmt.Errorf("key store: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
