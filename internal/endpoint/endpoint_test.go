package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/xbastion/internal/fault"
	"github.com/antonkrylov/xbastion/internal/task"
)

type staticLookup struct {
	ip    string
	err   error
	calls int
}

func (s *staticLookup) PublicIPv4(context.Context, string) (string, error) {
	s.calls++
	return s.ip, s.err
}

func TestResolveIPv6OnlyAttachment(t *testing.T) {
	att := task.Attachment{NetworkInterfaceID: "eni-1", IPv6: "2001:db8::5"}

	lookup := &staticLookup{}
	addr, err := Resolve(context.Background(), att, false, lookup)
	require.NoError(t, err)
	require.Equal(t, Address{IP: "2001:db8::5", IPv6: true, FellBack: true}, addr)
	require.Equal(t, 1, lookup.calls)

	lookup = &staticLookup{}
	addr, err = Resolve(context.Background(), att, true, lookup)
	require.NoError(t, err)
	require.Equal(t, Address{IP: "2001:db8::5", IPv6: true}, addr)
	require.Zero(t, lookup.calls)
}

func TestResolvePrefersPublicIPv4(t *testing.T) {
	att := task.Attachment{NetworkInterfaceID: "eni-1", IPv6: "2001:db8::5"}
	addr, err := Resolve(context.Background(), att, false, &staticLookup{ip: "203.0.113.9"})
	require.NoError(t, err)
	require.Equal(t, Address{IP: "203.0.113.9"}, addr)
}

func TestResolveIPv6RequestNeverDegrades(t *testing.T) {
	att := task.Attachment{NetworkInterfaceID: "eni-1"}
	_, err := Resolve(context.Background(), att, true, &staticLookup{ip: "203.0.113.9"})
	require.ErrorIs(t, err, fault.ErrAddressResolution)
}

func TestResolveNoAddresses(t *testing.T) {
	att := task.Attachment{NetworkInterfaceID: "eni-1"}
	for _, prefer := range []bool{false, true} {
		_, err := Resolve(context.Background(), att, prefer, &staticLookup{})
		require.ErrorIs(t, err, fault.ErrAddressResolution, "preferIPv6=%t", prefer)
	}
}

func TestResolveLookupError(t *testing.T) {
	att := task.Attachment{NetworkInterfaceID: "eni-1", IPv6: "2001:db8::5"}
	_, err := Resolve(context.Background(), att, false, &staticLookup{err: errors.New("UnauthorizedOperation")})
	require.ErrorIs(t, err, fault.ErrAddressResolution)
}

type fakeEC2 struct {
	ec2iface.EC2API
	out *ec2.DescribeNetworkInterfacesOutput
	ids []string
}

func (f *fakeEC2) DescribeNetworkInterfacesWithContext(_ aws.Context, in *ec2.DescribeNetworkInterfacesInput, _ ...request.Option) (*ec2.DescribeNetworkInterfacesOutput, error) {
	f.ids = aws.StringValueSlice(in.NetworkInterfaceIds)
	return f.out, nil
}

func TestENILookup(t *testing.T) {
	f := &fakeEC2{out: &ec2.DescribeNetworkInterfacesOutput{NetworkInterfaces: []*ec2.NetworkInterface{{
		Association: &ec2.NetworkInterfaceAssociation{PublicIp: aws.String("198.51.100.20")},
	}}}}
	ip, err := ENILookup{EC2: f}.PublicIPv4(context.Background(), "eni-7")
	require.NoError(t, err)
	require.Equal(t, "198.51.100.20", ip)
	require.Equal(t, []string{"eni-7"}, f.ids)

	f.out = &ec2.DescribeNetworkInterfacesOutput{NetworkInterfaces: []*ec2.NetworkInterface{{}}}
	ip, err = ENILookup{EC2: f}.PublicIPv4(context.Background(), "eni-7")
	require.NoError(t, err)
	require.Empty(t, ip)
}
