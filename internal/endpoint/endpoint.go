// Package endpoint picks the address a freshly launched bastion is reached on.
//
// Public IPv4 is preferred unless IPv6 was explicitly requested. An IPv6
// request never degrades to IPv4; an IPv4 preference falls back to IPv6 with
// a warning.
package endpoint

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"

	"github.com/antonkrylov/xbastion/internal/fault"
	"github.com/antonkrylov/xbastion/internal/task"
)

// Address is a resolved bastion address.
type Address struct {
	IP   string
	IPv6 bool
	// FellBack is set when IPv4 was preferred but only IPv6 was available.
	FellBack bool
}

// PublicIPv4Lookup returns the public IPv4 associated with a network
// interface, or "" when there is none.
type PublicIPv4Lookup interface {
	PublicIPv4(ctx context.Context, networkInterfaceID string) (string, error)
}

// Resolve applies the protocol policy to a running task's attachment.
func Resolve(ctx context.Context, att task.Attachment, preferIPv6 bool, lookup PublicIPv4Lookup) (Address, error) {
	if preferIPv6 {
		if att.IPv6 == "" {
			return Address{}, fault.E(fault.ErrAddressResolution, nil,
				"IPv6 requested, but no IPv6 address on the bastion task; check the selected VPC subnets")
		}
		return Address{IP: att.IPv6, IPv6: true}, nil
	}

	var ipv4 string
	if att.NetworkInterfaceID != "" {
		v, err := lookup.PublicIPv4(ctx, att.NetworkInterfaceID)
		if err != nil {
			return Address{}, fault.E(fault.ErrAddressResolution, err, "look up public IPv4 of %s", att.NetworkInterfaceID)
		}
		ipv4 = v
	}
	if ipv4 != "" {
		return Address{IP: ipv4}, nil
	}
	if att.IPv6 != "" {
		return Address{IP: att.IPv6, IPv6: true, FellBack: true}, nil
	}
	return Address{}, fault.E(fault.ErrAddressResolution, nil,
		"bastion task has neither IPv6 nor public IPv4 address; check the selected VPC subnets")
}

// ENILookup resolves public IPv4 addresses through EC2.
type ENILookup struct {
	EC2 ec2iface.EC2API
}

func (l ENILookup) PublicIPv4(ctx context.Context, id string) (string, error) {
	out, err := l.EC2.DescribeNetworkInterfacesWithContext(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []*string{aws.String(id)},
	})
	if err != nil {
		return "", err
	}
	if len(out.NetworkInterfaces) == 0 {
		return "", fmt.Errorf("network interface %s not found", id)
	}
	ni := out.NetworkInterfaces[0]
	if ni.Association == nil {
		return "", nil
	}
	return aws.StringValue(ni.Association.PublicIp), nil
}
