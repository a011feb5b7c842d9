package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var errKeyCaptured = errors.New("host key captured")

// FetchHostKey completes just enough of the SSH handshake to read the
// server's host key, then aborts.
func FetchHostKey(ctx context.Context, host string, port int, timeout time.Duration) (ssh.PublicKey, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User: "probe",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errKeyCaptured
		},
		Timeout: timeout,
	}
	_, _, _, err = ssh.NewClientConn(conn, addr, cfg)
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		err = errors.New("no host key presented")
	}
	return nil, fmt.Errorf("read host key from %s: %w", addr, err)
}

// KeyStatus is the known_hosts verdict for a server key.
type KeyStatus int

const (
	KeyUnknown KeyStatus = iota
	KeyKnown
	KeyChanged
)

// CheckKnownHosts looks key up in a known_hosts file. A missing file means
// every key is unknown.
func CheckKnownHosts(path, host string, port int, key ssh.PublicKey) (KeyStatus, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return KeyUnknown, nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return KeyUnknown, fmt.Errorf("load known_hosts: %w", err)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	err = cb(addr, &net.TCPAddr{IP: net.IPv4zero, Port: port}, key)
	if err == nil {
		return KeyKnown, nil
	}
	var ke *knownhosts.KeyError
	if errors.As(err, &ke) {
		if len(ke.Want) > 0 {
			return KeyChanged, nil
		}
		return KeyUnknown, nil
	}
	var re *knownhosts.RevokedError
	if errors.As(err, &re) {
		return KeyChanged, nil
	}
	return KeyUnknown, err
}

// WriteKnownHost records key for host:port, dropping earlier plain-text
// entries for the same host so a replaced key does not linger.
func WriteKnownHost(path, host string, port int, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	pattern := knownhosts.Normalize(net.JoinHostPort(host, strconv.Itoa(port)))

	var kept []string
	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if lineMatchesHost(line, pattern) {
				continue
			}
			kept = append(kept, line)
		}
		f.Close()
		if err := sc.Err(); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	kept = append(kept, knownhosts.Line([]string{pattern}, key))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func lineMatchesHost(line, pattern string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 || strings.HasPrefix(fields[0], "#") || strings.HasPrefix(fields[0], "@") {
		return false
	}
	for _, h := range strings.Split(fields[0], ",") {
		if h == pattern {
			return true
		}
	}
	return false
}

// FingerprintMatches compares a pinned fingerprint in SHA256 or legacy MD5
// form against key.
func FingerprintMatches(pinned string, key ssh.PublicKey) bool {
	pinned = strings.TrimSpace(pinned)
	if pinned == "" {
		return false
	}
	sha := ssh.FingerprintSHA256(key)
	if pinned == sha || "SHA256:"+pinned == sha {
		return true
	}
	md5 := ssh.FingerprintLegacyMD5(key)
	return strings.EqualFold(strings.TrimPrefix(pinned, "MD5:"), md5)
}

func describeKey(key ssh.PublicKey) string {
	return key.Type() + " " + ssh.FingerprintSHA256(key)
}
