// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"
)

// TLSFromConfig builds a *tls.Config from an ssl block. Returns (nil, nil)
// when the block is absent or ssl.enabled is false.
//
// Two material formats are supported:
//
//   - "pem" (default): ca_cert, client_cert, client_key file paths. The
//     private key may be PKCS#8, PKCS#1 RSA, or SEC1 EC.
//   - "jks" / "pkcs12": keystore/keystore_password for the client identity
//     and truststore/truststore_password for the trust anchors.
//
// Protocol defaults to TLS 1.3; ssl.protocol accepts "TLSv1.2"/"TLSv1.3".
func TLSFromConfig(sslCfg map[string]interface{}) (*tls.Config, error) {
	if sslCfg == nil || !cfgBool(sslCfg, "enabled", false) {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS13}
	if proto := cfgString(sslCfg, "protocol", ""); proto != "" {
		switch strings.ToUpper(proto) {
		case "TLSV1.2", "TLS1.2":
			tlsCfg.MinVersion = tls.VersionTLS12
		case "TLSV1.3", "TLS1.3":
			tlsCfg.MinVersion = tls.VersionTLS13
		default:
			return nil, fmt.Errorf("unsupported ssl protocol %q", proto)
		}
	}

	format := strings.ToLower(cfgString(sslCfg, "format", "pem"))
	switch format {
	case "pem":
		if err := loadPEMMaterial(tlsCfg, sslCfg); err != nil {
			return nil, err
		}
	case "jks":
		if err := loadJKSMaterial(tlsCfg, sslCfg); err != nil {
			return nil, err
		}
	case "pkcs12", "p12":
		if err := loadPKCS12Material(tlsCfg, sslCfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported ssl format %q", format)
	}

	tlsCfg.InsecureSkipVerify = cfgBool(sslCfg, "insecure_skip_verify", false)
	return tlsCfg, nil
}

// loadPEMMaterial loads the ca_cert / client_cert / client_key triple.
func loadPEMMaterial(tlsCfg *tls.Config, sslCfg map[string]interface{}) error {
	if caPath := cfgString(sslCfg, "ca_cert", ""); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return fmt.Errorf("read ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("ca_cert %s contains no usable certificates", caPath)
		}
		tlsCfg.RootCAs = pool
	}

	certPath := cfgString(sslCfg, "client_cert", "")
	keyPath := cfgString(sslCfg, "client_key", "")
	if certPath == "" && keyPath == "" {
		return nil
	}
	if certPath == "" || keyPath == "" {
		return fmt.Errorf("client_cert and client_key must be set together")
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("read client_cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read client_key: %w", err)
	}

	keyDER, err := normalizePrivateKeyPEM(keyPEM)
	if err != nil {
		return err
	}
	cert, err := tls.X509KeyPair(certPEM, keyDER)
	if err != nil {
		return fmt.Errorf("build client key pair: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}
	return nil
}

// normalizePrivateKeyPEM verifies the key parses as PKCS#8, PKCS#1 RSA, or
// SEC1 EC and returns the PEM unchanged for tls.X509KeyPair (which accepts
// all three). Unknown block types fail fast with a named error.
func normalizePrivateKeyPEM(keyPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("client_key is not PEM encoded")
	}
	var err error
	switch block.Type {
	case "PRIVATE KEY":
		_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		_, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		_, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported private key PEM type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse client_key (%s): %w", block.Type, err)
	}
	return keyPEM, nil
}

// loadJKSMaterial loads a Java keystore/truststore pair.
func loadJKSMaterial(tlsCfg *tls.Config, sslCfg map[string]interface{}) error {
	if tsPath := cfgString(sslCfg, "truststore", ""); tsPath != "" {
		pool, err := jksTrustPool(tsPath, cfgString(sslCfg, "truststore_password", ""))
		if err != nil {
			return err
		}
		tlsCfg.RootCAs = pool
	}

	ksPath := cfgString(sslCfg, "keystore", "")
	if ksPath == "" {
		return nil
	}
	password := []byte(cfgString(sslCfg, "keystore_password", ""))

	raw, err := os.ReadFile(ksPath)
	if err != nil {
		return fmt.Errorf("read keystore: %w", err)
	}
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(raw), password); err != nil {
		return fmt.Errorf("load keystore %s: %w", ksPath, err)
	}

	for _, alias := range ks.Aliases() {
		entry, err := ks.GetPrivateKeyEntry(alias, password)
		if err != nil {
			continue
		}
		key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
		if err != nil {
			return fmt.Errorf("parse keystore key %s: %w", alias, err)
		}
		cert := tls.Certificate{PrivateKey: key}
		for _, c := range entry.CertificateChain {
			cert.Certificate = append(cert.Certificate, c.Content)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
		return nil
	}
	return fmt.Errorf("keystore %s holds no private key entry", ksPath)
}

// jksTrustPool builds a cert pool from a JKS truststore.
func jksTrustPool(path, password string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read truststore: %w", err)
	}
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(raw), []byte(password)); err != nil {
		return nil, fmt.Errorf("load truststore %s: %w", path, err)
	}

	pool := x509.NewCertPool()
	added := 0
	for _, alias := range ks.Aliases() {
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			continue
		}
		cert, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			continue
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return nil, fmt.Errorf("truststore %s holds no trusted certificates", path)
	}
	return pool, nil
}

// loadPKCS12Material loads a PKCS#12 keystore/truststore pair.
func loadPKCS12Material(tlsCfg *tls.Config, sslCfg map[string]interface{}) error {
	if tsPath := cfgString(sslCfg, "truststore", ""); tsPath != "" {
		raw, err := os.ReadFile(tsPath)
		if err != nil {
			return fmt.Errorf("read truststore: %w", err)
		}
		certs, err := pkcs12.DecodeTrustStore(raw, cfgString(sslCfg, "truststore_password", ""))
		if err != nil {
			return fmt.Errorf("decode truststore %s: %w", tsPath, err)
		}
		pool := x509.NewCertPool()
		for _, c := range certs {
			pool.AddCert(c)
		}
		tlsCfg.RootCAs = pool
	}

	ksPath := cfgString(sslCfg, "keystore", "")
	if ksPath == "" {
		return nil
	}
	raw, err := os.ReadFile(ksPath)
	if err != nil {
		return fmt.Errorf("read keystore: %w", err)
	}
	key, cert, caCerts, err := pkcs12.DecodeChain(raw, cfgString(sslCfg, "keystore_password", ""))
	if err != nil {
		return fmt.Errorf("decode keystore %s: %w", ksPath, err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
	}
	for _, ca := range caCerts {
		tlsCert.Certificate = append(tlsCert.Certificate, ca.Raw)
	}
	tlsCfg.Certificates = []tls.Certificate{tlsCert}
	return nil
}
