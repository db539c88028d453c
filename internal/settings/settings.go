// Package settings loads the installation settings that an administrator
// stores in SSM Parameter Store under /xbastion/<installation>/.
package settings

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"

	"github.com/antonkrylov/xbastion/internal/fault"
)

// Prefix is the root of every installation's parameters.
const Prefix = "/xbastion/"

// Defaults for optional parameters.
const (
	DefaultSSHPort   = "22"
	DefaultCluster   = "xbastion"
	DefaultContainer = "xbastion"
)

// Settings is one installation's configuration.
type Settings struct {
	Installation    string
	PublicSubnets   []string
	SecurityGroup   string
	ForcePublicIPv4 bool
	SSHPort         string
	Cluster         string
	TaskDefinition  string
	Container       string

	// EnableExecuteCommand turns on ECS Exec for the bastion task.
	EnableExecuteCommand bool
}

// Path is the parameter path of an installation.
func Path(installation string) string {
	return Prefix + installation + "/"
}

// AssignPublicIP is the awsvpc public IP mode: a public IPv4 is assigned
// unless IPv6 was requested and IPv4 is not forced.
func (s *Settings) AssignPublicIP(preferIPv6 bool) string {
	if s.ForcePublicIPv4 || !preferIPv6 {
		return "ENABLED"
	}
	return "DISABLED"
}

// Load reads and validates the parameters of installation.
func Load(ctx context.Context, api ssmiface.SSMAPI, installation string) (*Settings, error) {
	if installation == "" {
		return nil, fault.Setupf("no installation selected")
	}
	path := Path(installation)
	params := map[string]string{}
	err := api.GetParametersByPathPagesWithContext(ctx, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}, func(page *ssm.GetParametersByPathOutput, _ bool) bool {
		for _, p := range page.Parameters {
			name := strings.TrimPrefix(aws.StringValue(p.Name), path)
			params[name] = aws.StringValue(p.Value)
		}
		return true
	})
	if err != nil {
		return nil, fault.E(fault.ErrSetup, err, "read parameters under %s", path)
	}
	return FromParameters(installation, params)
}

// FromParameters maps raw parameters (names relative to the installation
// path) onto Settings. Unknown names are ignored; required ones must be set.
func FromParameters(installation string, params map[string]string) (*Settings, error) {
	if len(params) == 0 {
		return nil, fault.Setupf("no parameters found under %s; has installation %q been set up?", Path(installation), installation)
	}
	s := &Settings{
		Installation:   installation,
		SSHPort:        DefaultSSHPort,
		Cluster:        DefaultCluster,
		TaskDefinition: DefaultCluster + "-" + installation,
		Container:      DefaultContainer,
	}
	var missing []string
	for _, name := range []string{"public_subnets", "security_group"} {
		if strings.TrimSpace(params[name]) == "" {
			missing = append(missing, Path(installation)+name)
		}
	}
	if len(missing) > 0 {
		return nil, fault.Setupf("missing required parameter(s) %s; re-run the installation setup", strings.Join(missing, ", "))
	}
	for _, subnet := range strings.Split(params["public_subnets"], ",") {
		if subnet = strings.TrimSpace(subnet); subnet != "" {
			s.PublicSubnets = append(s.PublicSubnets, subnet)
		}
	}
	if len(s.PublicSubnets) == 0 {
		return nil, fault.Setupf("parameter %spublic_subnets lists no subnets", Path(installation))
	}
	s.SecurityGroup = strings.TrimSpace(params["security_group"])
	s.ForcePublicIPv4 = isTrue(params["force_public_ipv4"])
	s.EnableExecuteCommand = isTrue(params["enable_execute_command"])

	if v := strings.TrimSpace(params["ssh_port"]); v != "" {
		if port, err := strconv.Atoi(v); err != nil || port < 1 || port > 65535 {
			return nil, fault.Setupf("parameter %sssh_port: invalid port %q", Path(installation), v)
		}
		s.SSHPort = v
	}
	if v := strings.TrimSpace(params["cluster"]); v != "" {
		s.Cluster = v
	}
	if v := strings.TrimSpace(params["task_definition"]); v != "" {
		s.TaskDefinition = v
	}
	if v := strings.TrimSpace(params["container"]); v != "" {
		s.Container = v
	}
	return s, nil
}

func isTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
