package config

import (
	"os"
	"strings"
	"time"
)

// DefaultInstallation is used when no flag, context or environment names one.
const DefaultInstallation = "default"

// Flags are the command-line values that take part in resolution. Zero
// values mean "not given".
type Flags struct {
	ConfigPath   string
	ContextName  string
	Installation string
	Region       string
	Profile      string
	Keygen       string
	IPv6         bool
	ReadyTimeout time.Duration
}

// Resolved is the effective session configuration.
type Resolved struct {
	ConfigPath  string
	ContextName string
	Config      *Config
	Context     *Context

	Installation string
	Region       string
	Profile      string
	Keygen       string
	IPv6         bool
	ReadyTimeout time.Duration
	Audit        *Audit
}

// ResolveSession merges, in order of precedence:
// 1) flags
// 2) the selected config context
// 3) environment (XBASTION_INSTALLATION, AWS_REGION, AWS_DEFAULT_REGION)
// 4) defaults (installation "default", native key generation, no ready timeout)
// getenv may be nil, meaning os.Getenv.
func ResolveSession(f Flags, getenv func(string) string) (*Resolved, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	r := &Resolved{
		ConfigPath:   f.ConfigPath,
		ContextName:  f.ContextName,
		Installation: strings.TrimSpace(f.Installation),
		Region:       strings.TrimSpace(f.Region),
		Profile:      strings.TrimSpace(f.Profile),
		Keygen:       strings.TrimSpace(f.Keygen),
		IPv6:         f.IPv6,
		ReadyTimeout: f.ReadyTimeout,
	}

	if r.ConfigPath != "" {
		cfg, err := Load(r.ConfigPath)
		if err != nil {
			return nil, err
		}
		r.Config = cfg
	}
	if r.Config != nil {
		ctx, name, err := r.Config.Resolve(r.ContextName)
		if err != nil {
			return nil, err
		}
		r.Context, r.ContextName = ctx, name
	}

	if c := r.Context; c != nil {
		r.Installation = firstNonBlank(r.Installation, c.InstallationID)
		r.Region = firstNonBlank(r.Region, c.Region)
		r.Profile = firstNonBlank(r.Profile, c.Profile)
		r.Keygen = firstNonBlank(r.Keygen, c.Keygen)
		r.IPv6 = r.IPv6 || c.IPv6
		if r.ReadyTimeout == 0 && c.ReadyTimeoutSeconds > 0 {
			r.ReadyTimeout = time.Duration(c.ReadyTimeoutSeconds) * time.Second
		}
		if c.Audit != nil && c.Audit.NatsURL != "" {
			r.Audit = c.Audit
		}
	}

	r.Installation = firstNonBlank(r.Installation, getenv("XBASTION_INSTALLATION"), DefaultInstallation)
	r.Region = firstNonBlank(r.Region, getenv("AWS_REGION"), getenv("AWS_DEFAULT_REGION"))
	r.Keygen = firstNonBlank(r.Keygen, "native")
	return r, nil
}

// firstNonBlank returns the first value that is not empty after trimming.
// Config files and environment variables often carry stray whitespace, so a
// blank entry must not shadow a lower-precedence source.
func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
