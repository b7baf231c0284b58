package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestSelfSigned_Defaults(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf := cert.Leaf

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNS SANs: got %v, want [localhost]", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || !leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("IP SANs: got %v, want [127.0.0.1]", leaf.IPAddresses)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
	if err := leaf.CheckSignatureFrom(leaf); err != nil {
		t.Errorf("certificate is not self-signed: %v", err)
	}
}

func TestSelfSigned_CustomHosts(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("relay.test", "10.0.0.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cert.Leaf.Subject.CommonName != "relay.test" {
		t.Errorf("CN: got %q", cert.Leaf.Subject.CommonName)
	}
	if err := cert.Leaf.VerifyHostname("relay.test"); err != nil {
		t.Errorf("VerifyHostname(relay.test): %v", err)
	}
	if err := cert.Leaf.VerifyHostname("10.0.0.7"); err != nil {
		t.Errorf("VerifyHostname(10.0.0.7): %v", err)
	}
}

func TestServerConfig_SelfSigned(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates: got %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2", cfg.MinVersion)
	}
}

func TestServerConfig_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
	if _, err := ServerConfig("/only/cert.pem", ""); err == nil {
		t.Error("expected error when key file is missing, got nil")
	}
}

func TestClientConfig(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned()
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, EncodePEM(cert), 0o600); err != nil {
		t.Fatalf("write CA file: %v", err)
	}

	cfg, err := ClientConfig(ClientOptions{ServerName: "localhost", CAFile: caFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "localhost" || cfg.InsecureSkipVerify {
		t.Errorf("unexpected config: server name %q, insecure %v", cfg.ServerName, cfg.InsecureSkipVerify)
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs not set")
	}

	insecure, err := ClientConfig(ClientOptions{Insecure: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !insecure.InsecureSkipVerify {
		t.Error("Insecure option not applied")
	}

	empty := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(empty, []byte("nothing"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ClientConfig(ClientOptions{CAFile: empty}); err == nil {
		t.Error("expected error for CA file without certificates")
	}
}
