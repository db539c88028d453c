package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultBits matches ssh-keygen's default RSA size.
const DefaultBits = 3072

// Native generates keys in-process with crypto/rsa and writes them in
// OpenSSH format.
type Native struct {
	Bits    int
	Comment string
}

func (n Native) Generate(_ context.Context, path string) error {
	bits := n.Bits
	if bits <= 0 {
		bits = DefaultBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return err
	}
	block, err := ssh.MarshalPrivateKey(priv, n.Comment)
	if err != nil {
		return err
	}
	pub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return err
	}
	line := ssh.MarshalAuthorizedKey(pub)
	if n.Comment != "" {
		line = append(line[:len(line)-1], []byte(" "+n.Comment+"\n")...)
	}
	return os.WriteFile(path+".pub", line, 0o644)
}

// SSHKeygen shells out to ssh-keygen.
type SSHKeygen struct {
	Path string
}

func (s SSHKeygen) Generate(ctx context.Context, path string) error {
	bin := s.Path
	if bin == "" {
		bin = "ssh-keygen"
	}
	c := exec.CommandContext(ctx, bin, "-q", "-N", "", "-t", "rsa", "-f", path)
	out, err := c.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}

// NewGenerator maps a configured generator name to an implementation.
func NewGenerator(name string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "native":
		return Native{Bits: DefaultBits}, nil
	case "ssh-keygen":
		return SSHKeygen{}, nil
	default:
		return nil, fmt.Errorf("unknown key generator %q (use native|ssh-keygen)", name)
	}
}
