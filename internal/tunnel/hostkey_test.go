package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestFetchHostKeyFromServer(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _, _, _ = ssh.NewServerConn(c, cfg)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	key, err := FetchHostKey(context.Background(), "127.0.0.1", port, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ssh.FingerprintSHA256(key) != ssh.FingerprintSHA256(signer.PublicKey()) {
		t.Error("fetched key differs from server key")
	}
}

func TestKnownHostsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	a, b := testKey(t), testKey(t)

	if st, err := CheckKnownHosts(path, "h.example", 2222, a); err != nil || st != KeyUnknown {
		t.Fatalf("missing file: %v %v", st, err)
	}
	if err := WriteKnownHost(path, "h.example", 2222, a); err != nil {
		t.Fatal(err)
	}
	if st, _ := CheckKnownHosts(path, "h.example", 2222, a); st != KeyKnown {
		t.Errorf("status = %v, want known", st)
	}
	if st, _ := CheckKnownHosts(path, "h.example", 2222, b); st != KeyChanged {
		t.Errorf("status = %v, want changed", st)
	}
	if st, _ := CheckKnownHosts(path, "other.example", 22, a); st != KeyUnknown {
		t.Errorf("status = %v, want unknown", st)
	}

	if err := WriteKnownHost(path, "h.example", 2222, b); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "[h.example]:2222"); n != 1 {
		t.Errorf("expected one entry after replace, got %d:\n%s", n, data)
	}
	if st, _ := CheckKnownHosts(path, "h.example", 2222, b); st != KeyKnown {
		t.Errorf("replaced key status = %v", st)
	}
}

func TestFingerprintMatches(t *testing.T) {
	key := testKey(t)
	sha := ssh.FingerprintSHA256(key)
	if !FingerprintMatches(sha, key) || !FingerprintMatches(strings.TrimPrefix(sha, "SHA256:"), key) {
		t.Error("sha256 forms should match")
	}
	if !FingerprintMatches("MD5:"+ssh.FingerprintLegacyMD5(key), key) {
		t.Error("md5 form should match")
	}
	if FingerprintMatches("SHA256:nope", key) || FingerprintMatches("", key) {
		t.Error("unexpected match")
	}
}
