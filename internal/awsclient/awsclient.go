// Package awsclient builds the AWS service clients a session talks to from
// one shared session.Session.
package awsclient

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/rds"
	"github.com/aws/aws-sdk-go/service/rds/rdsiface"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"

	"github.com/antonkrylov/xbastion/internal/fault"
)

// Options selects the credentials and region. Empty fields defer to the
// SDK's own environment and shared-config resolution.
type Options struct {
	Region  string
	Profile string
}

// Clients are the service APIs used by a session.
type Clients struct {
	Region string
	ECS    ecsiface.ECSAPI
	EC2    ec2iface.EC2API
	SSM    ssmiface.SSMAPI
	RDS    rdsiface.RDSAPI
}

// New creates a session and its service clients.
func New(opts Options) (*Clients, error) {
	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		Profile:           opts.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fault.E(fault.ErrSetup, err, "create AWS session")
	}
	region := aws.StringValue(sess.Config.Region)
	if region == "" {
		return nil, fault.Setupf("no AWS region configured; use --region or set AWS_REGION")
	}
	return FromSession(sess), nil
}

// FromSession wraps an existing session.
func FromSession(sess *session.Session) *Clients {
	return &Clients{
		Region: aws.StringValue(sess.Config.Region),
		ECS:    ecs.New(sess),
		EC2:    ec2.New(sess),
		SSM:    ssm.New(sess),
		RDS:    rds.New(sess),
	}
}
