// Package keys provisions the per-session SSH credential material: an
// ephemeral host keypair the bastion presents, an ephemeral login keypair the
// local client authenticates with, and the known-hosts record that pins the
// bastion's host key once its address is known.
package keys

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/antonkrylov/xbastion/internal/fault"
)

const (
	hostKeyName    = "ssh_host_rsa_key"
	loginKeyName   = "ssh_login_key"
	knownHostsName = "known_hosts"

	// EnvAuthorizedKeys carries the login public key to the bastion.
	EnvAuthorizedKeys = "XBASTION_SSH_AUTHORIZED_KEYS"
	// EnvHostKey carries the base64-encoded host private key to the bastion.
	EnvHostKey = "XBASTION_SSH_HOST_RSA_KEY_BASE64"
)

// Generator writes an unencrypted RSA keypair to path and path+".pub".
type Generator interface {
	Generate(ctx context.Context, path string) error
}

// Material is the credential material of one session. It owns a scratch
// directory that Close removes.
type Material struct {
	Dir string

	HostKey    []byte
	HostKeyPub []byte
	LoginKey   string // path only; the private login key is never read into memory
	LoginPub   []byte

	KnownHosts string
}

// Provision creates a scratch directory and generates the host and login
// keypairs in it. On failure nothing is left behind.
func Provision(ctx context.Context, gen Generator, logger *slog.Logger) (_ *Material, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := os.MkdirTemp("", "xbastion-")
	if err != nil {
		return nil, fault.E(fault.ErrProvisioning, err, "create scratch directory")
	}
	m := &Material{
		Dir:        dir,
		LoginKey:   filepath.Join(dir, loginKeyName),
		KnownHosts: filepath.Join(dir, knownHostsName),
	}
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	hostKey := filepath.Join(dir, hostKeyName)
	for _, path := range []string{hostKey, m.LoginKey} {
		if err := gen.Generate(ctx, path); err != nil {
			return nil, fault.E(fault.ErrProvisioning, err, "generate %s", filepath.Base(path))
		}
	}
	if m.HostKey, err = os.ReadFile(hostKey); err != nil {
		return nil, fault.E(fault.ErrProvisioning, err, "read host key")
	}
	if m.HostKeyPub, err = os.ReadFile(hostKey + ".pub"); err != nil {
		return nil, fault.E(fault.ErrProvisioning, err, "read host public key")
	}
	if m.LoginPub, err = os.ReadFile(m.LoginKey + ".pub"); err != nil {
		return nil, fault.E(fault.ErrProvisioning, err, "read login public key")
	}
	logger.Debug("provisioned session keys", "dir", dir)
	return m, nil
}

// Close removes the scratch directory and everything in it.
func (m *Material) Close() error {
	if m == nil || m.Dir == "" {
		return nil
	}
	return os.RemoveAll(m.Dir)
}

// RemoteEnvironment returns the environment injected into the bastion
// container: the login public key and the base64 host private key.
func (m *Material) RemoteEnvironment() map[string]string {
	return map[string]string{
		EnvAuthorizedKeys: string(m.LoginPub),
		EnvHostKey:        base64.StdEncoding.EncodeToString(m.HostKey),
	}
}

// WriteKnownHosts writes the host-verification record for addr:port and
// returns it. Writing the same inputs twice yields the same file.
func (m *Material) WriteKnownHosts(addr, port string) (Record, error) {
	rec := Record{
		Host: HostPattern(addr, port),
		Key:  strings.TrimSpace(string(m.HostKeyPub)),
	}
	if err := os.WriteFile(m.KnownHosts, []byte(rec.Line()), 0o600); err != nil {
		return Record{}, fault.E(fault.ErrProvisioning, err, "write known hosts")
	}
	return rec, nil
}

// Record is a single known-hosts entry.
type Record struct {
	Host string
	Key  string
}

// Line renders the record in known-hosts format, newline terminated.
func (r Record) Line() string {
	return r.Host + " " + r.Key + "\n"
}

// HostPattern formats the known-hosts host field. OpenSSH only matches a bare
// host for port 22; any other port must be written as [host]:port.
func HostPattern(addr, port string) string {
	if port == "" || port == "22" {
		return addr
	}
	return fmt.Sprintf("[%s]:%s", addr, port)
}

// ParseRecord parses a known-hosts line produced by Record.Line back into
// address, port and key.
func ParseRecord(line string) (addr, port, key string, err error) {
	host, key, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || host == "" || key == "" {
		return "", "", "", fmt.Errorf("malformed known hosts line %q", line)
	}
	if !strings.HasPrefix(host, "[") {
		return host, "22", key, nil
	}
	end := strings.LastIndex(host, "]:")
	if end < 0 {
		return "", "", "", fmt.Errorf("malformed host pattern %q", host)
	}
	return host[1:end], host[end+2:], key, nil
}
