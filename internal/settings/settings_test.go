package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/xbastion/internal/fault"
)

type fakeSSM struct {
	ssmiface.SSMAPI
	in    *ssm.GetParametersByPathInput
	pages [][]*ssm.Parameter
	err   error
}

func (f *fakeSSM) GetParametersByPathPagesWithContext(_ aws.Context, in *ssm.GetParametersByPathInput, fn func(*ssm.GetParametersByPathOutput, bool) bool, _ ...request.Option) error {
	f.in = in
	if f.err != nil {
		return f.err
	}
	for i, page := range f.pages {
		if !fn(&ssm.GetParametersByPathOutput{Parameters: page}, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func param(name, value string) *ssm.Parameter {
	return &ssm.Parameter{Name: aws.String(name), Value: aws.String(value)}
}

func TestLoad(t *testing.T) {
	f := &fakeSSM{pages: [][]*ssm.Parameter{
		{param("/xbastion/prod/public_subnets", "subnet-a, subnet-b"), param("/xbastion/prod/security_group", "sg-1")},
		{param("/xbastion/prod/force_public_ipv4", "True"), param("/xbastion/prod/ssh_port", "2222")},
	}}
	s, err := Load(context.Background(), f, "prod")
	require.NoError(t, err)
	require.Equal(t, &Settings{
		Installation:    "prod",
		PublicSubnets:   []string{"subnet-a", "subnet-b"},
		SecurityGroup:   "sg-1",
		ForcePublicIPv4: true,
		SSHPort:         "2222",
		Cluster:         "xbastion",
		TaskDefinition:  "xbastion-prod",
		Container:       "xbastion",
	}, s)

	require.Equal(t, "/xbastion/prod/", aws.StringValue(f.in.Path))
	require.True(t, aws.BoolValue(f.in.Recursive))
	require.True(t, aws.BoolValue(f.in.WithDecryption))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), &fakeSSM{err: errors.New("AccessDeniedException")}, "prod")
	require.ErrorIs(t, err, fault.ErrSetup)
	require.Contains(t, err.Error(), "AccessDeniedException")

	_, err = Load(context.Background(), &fakeSSM{}, "prod")
	require.ErrorIs(t, err, fault.ErrSetup)
	require.Contains(t, err.Error(), "has installation \"prod\" been set up")

	_, err = Load(context.Background(), &fakeSSM{}, "")
	require.ErrorIs(t, err, fault.ErrSetup)
}

func TestFromParametersValidation(t *testing.T) {
	_, err := FromParameters("dev", map[string]string{"public_subnets": "subnet-a"})
	require.ErrorIs(t, err, fault.ErrSetup)
	require.Contains(t, err.Error(), "/xbastion/dev/security_group")

	_, err = FromParameters("dev", map[string]string{"public_subnets": " , ", "security_group": "sg-1"})
	require.ErrorIs(t, err, fault.ErrSetup)

	_, err = FromParameters("dev", map[string]string{"public_subnets": "subnet-a", "security_group": "sg-1", "ssh_port": "ssh"})
	require.ErrorIs(t, err, fault.ErrSetup)

	s, err := FromParameters("dev", map[string]string{
		"public_subnets": "subnet-a", "security_group": "sg-1",
		"cluster": "bastions", "task_definition": "bastion:7", "container": "sshd", "unknown": "x",
		"enable_execute_command": "true",
	})
	require.NoError(t, err)
	require.False(t, s.ForcePublicIPv4)
	require.True(t, s.EnableExecuteCommand)
	require.Equal(t, "22", s.SSHPort)
	require.Equal(t, "bastions", s.Cluster)
	require.Equal(t, "bastion:7", s.TaskDefinition)
	require.Equal(t, "sshd", s.Container)
}

func TestAssignPublicIP(t *testing.T) {
	s := &Settings{}
	require.Equal(t, "ENABLED", s.AssignPublicIP(false))
	require.Equal(t, "DISABLED", s.AssignPublicIP(true))
	s.ForcePublicIPv4 = true
	require.Equal(t, "ENABLED", s.AssignPublicIP(true))
}
