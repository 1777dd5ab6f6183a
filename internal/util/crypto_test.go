package util

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api.crt")
	keyFile := filepath.Join(dir, "tls", "api.key")

	if err := EnsureSelfSignedCert(certFile, keyFile, []string{"localhost", "127.0.0.1"}); err != nil {
		t.Fatalf("EnsureSelfSignedCert: %v", err)
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "localhost" {
		t.Fatalf("DNS names = %v", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 1 || !cert.IPAddresses[0].Equal([]byte{127, 0, 0, 1}) {
		t.Fatalf("IP addresses = %v", cert.IPAddresses)
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("key mode = %v", info.Mode().Perm())
	}

	before, _ := os.ReadFile(certFile)
	if err := EnsureSelfSignedCert(certFile, keyFile, nil); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(certFile)
	if string(before) != string(after) {
		t.Fatal("existing certificate was regenerated")
	}
}
