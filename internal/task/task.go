// Package task launches the bastion as a single ECS task and waits for it
// to become reachable.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"

	"github.com/antonkrylov/xbastion/internal/fault"
)

// Task statuses with meaning to the lifecycle. Everything else is reported
// as progress and otherwise ignored.
const (
	StatusProvisioning = "PROVISIONING"
	StatusRunning      = "RUNNING"
	StatusStopped      = "STOPPED"
)

// Task is a launched bastion task as last observed.
type Task struct {
	ARN        string
	ID         string
	Status     string
	Reason     string
	Attachment Attachment
}

// Attachment is the task's network interface: an ENI id and, when the
// subnet assigns one, an IPv6 address. Public IPv4 is looked up separately.
type Attachment struct {
	NetworkInterfaceID string
	IPv6               string
}

// LaunchInput is everything one RunTask call needs beyond the controller's
// fixed placement.
type LaunchInput struct {
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP string
	Environment    map[string]string
	ClientToken    string
	StartedBy      string
	// EnableExecuteCommand allows ECS Exec into the bastion container.
	EnableExecuteCommand bool
}

// Controller submits bastion tasks.
type Controller struct {
	ECS            ecsiface.ECSAPI
	Cluster        string
	TaskDefinition string
	Container      string
	Logger         *slog.Logger
}

// Launch submits one RunTask request. Platform rejections are returned
// verbatim as launch failures.
func (c *Controller) Launch(ctx context.Context, in LaunchInput) (*Task, error) {
	out, err := c.ECS.RunTaskWithContext(ctx, c.runTaskInput(in))
	if err != nil {
		return nil, fault.E(fault.ErrLaunch, err, "launch bastion task")
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return nil, fault.E(fault.ErrLaunch, nil, "launch bastion task: %s (%s)",
			aws.StringValue(f.Reason), aws.StringValue(f.Detail))
	}
	if len(out.Tasks) == 0 {
		return nil, fault.E(fault.ErrLaunch, nil, "launch bastion task: no task returned")
	}
	t := fromECS(out.Tasks[0])
	c.logger().Debug("task launched", "arn", t.ARN, "status", t.Status)
	return t, nil
}

func (c *Controller) runTaskInput(in LaunchInput) *ecs.RunTaskInput {
	names := make([]string, 0, len(in.Environment))
	for k := range in.Environment {
		names = append(names, k)
	}
	sort.Strings(names)
	env := make([]*ecs.KeyValuePair, 0, len(names))
	for _, k := range names {
		env = append(env, &ecs.KeyValuePair{Name: aws.String(k), Value: aws.String(in.Environment[k])})
	}
	req := &ecs.RunTaskInput{
		Cluster:        aws.String(c.Cluster),
		TaskDefinition: aws.String(c.TaskDefinition),
		CapacityProviderStrategy: []*ecs.CapacityProviderStrategyItem{
			{CapacityProvider: aws.String("FARGATE"), Weight: aws.Int64(1), Base: aws.Int64(1)},
		},
		Overrides: &ecs.TaskOverride{
			ContainerOverrides: []*ecs.ContainerOverride{
				{Name: aws.String(c.Container), Environment: env},
			},
		},
		NetworkConfiguration: &ecs.NetworkConfiguration{
			AwsvpcConfiguration: &ecs.AwsVpcConfiguration{
				Subnets:        aws.StringSlice(in.Subnets),
				SecurityGroups: aws.StringSlice(in.SecurityGroups),
				AssignPublicIp: aws.String(in.AssignPublicIP),
			},
		},
	}
	if in.EnableExecuteCommand {
		req.EnableExecuteCommand = aws.Bool(true)
	}
	if in.ClientToken != "" {
		req.ClientToken = aws.String(in.ClientToken)
	}
	if in.StartedBy != "" {
		req.StartedBy = aws.String(in.StartedBy)
	}
	return req
}

// Describe fetches the current state of one task.
func (c *Controller) Describe(ctx context.Context, arn string) (*Task, error) {
	out, err := c.ECS.DescribeTasksWithContext(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(c.Cluster),
		Tasks:   []*string{aws.String(arn)},
	})
	if err != nil {
		return nil, fmt.Errorf("describe task %s: %w", arn, err)
	}
	if len(out.Tasks) == 0 {
		reason := "not found"
		if len(out.Failures) > 0 {
			reason = aws.StringValue(out.Failures[0].Reason)
		}
		return nil, fmt.Errorf("describe task %s: %s", arn, reason)
	}
	return fromECS(out.Tasks[0]), nil
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ID returns the last path segment of a task ARN.
func ID(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

func fromECS(t *ecs.Task) *Task {
	out := &Task{
		ARN:    aws.StringValue(t.TaskArn),
		Status: aws.StringValue(t.LastStatus),
		Reason: aws.StringValue(t.StoppedReason),
	}
	out.ID = ID(out.ARN)
	for _, a := range t.Attachments {
		for _, d := range a.Details {
			if aws.StringValue(d.Name) == "networkInterfaceId" {
				out.Attachment.NetworkInterfaceID = aws.StringValue(d.Value)
			}
		}
		if out.Attachment.NetworkInterfaceID != "" {
			break
		}
	}
	for _, ct := range t.Containers {
		for _, ni := range ct.NetworkInterfaces {
			if v := aws.StringValue(ni.Ipv6Address); v != "" {
				out.Attachment.IPv6 = v
				return out
			}
		}
	}
	return out
}
