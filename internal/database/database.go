// Package database discovers RDS instances and clusters and picks the one a
// database session tunnels to.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/rds"
	"github.com/aws/aws-sdk-go/service/rds/rdsiface"

	"github.com/antonkrylov/xbastion/internal/fault"
)

// Engine families a database client can speak to.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Endpoint is a connectable database as discovered.
type Endpoint struct {
	Identifier string
	Engine     string
	Host       string
	Port       int64
	Database   string
	Username   string
	Cluster    bool
}

// Transitional or non-ready statuses. Endpoints in these are never offered.
var unavailable = map[string]bool{
	"creating": true,
	"deleting": true,
	"failed":   true,
	"starting": true,
	"stopping": true,
	"stopped":  true,
}

// Discover lists every available instance and cluster. A cluster that has a
// listed member instance is dropped: it is reached through that instance.
func Discover(ctx context.Context, api rdsiface.RDSAPI) ([]Endpoint, error) {
	var (
		out      []Endpoint
		clusters []Endpoint
		members  = map[string]bool{}
	)
	err := api.DescribeDBInstancesPagesWithContext(ctx, &rds.DescribeDBInstancesInput{},
		func(page *rds.DescribeDBInstancesOutput, _ bool) bool {
			for _, db := range page.DBInstances {
				if unavailable[aws.StringValue(db.DBInstanceStatus)] || db.Endpoint == nil {
					continue
				}
				if id := aws.StringValue(db.DBClusterIdentifier); id != "" {
					members[strings.ToLower(id)] = true
				}
				out = append(out, Endpoint{
					Identifier: aws.StringValue(db.DBInstanceIdentifier),
					Engine:     aws.StringValue(db.Engine),
					Host:       aws.StringValue(db.Endpoint.Address),
					Port:       aws.Int64Value(db.Endpoint.Port),
					Database:   aws.StringValue(db.DBName),
					Username:   aws.StringValue(db.MasterUsername),
				})
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("describe db instances: %w", err)
	}
	err = api.DescribeDBClustersPagesWithContext(ctx, &rds.DescribeDBClustersInput{},
		func(page *rds.DescribeDBClustersOutput, _ bool) bool {
			for _, c := range page.DBClusters {
				if unavailable[aws.StringValue(c.Status)] || aws.StringValue(c.Endpoint) == "" {
					continue
				}
				clusters = append(clusters, Endpoint{
					Identifier: aws.StringValue(c.DBClusterIdentifier),
					Engine:     aws.StringValue(c.Engine),
					Host:       aws.StringValue(c.Endpoint),
					Port:       aws.Int64Value(c.Port),
					Database:   aws.StringValue(c.DatabaseName),
					Username:   aws.StringValue(c.MasterUsername),
					Cluster:    true,
				})
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("describe db clusters: %w", err)
	}
	for _, c := range clusters {
		if members[strings.ToLower(c.Identifier)] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Matches reports whether engine belongs to family.
func Matches(family, engine string) bool {
	engine = strings.ToLower(engine)
	switch family {
	case Postgres:
		return strings.Contains(engine, "postgres")
	case MySQL:
		return strings.Contains(engine, "mysql") || strings.Contains(engine, "maria")
	default:
		return false
	}
}

// Select narrows all to the endpoints of the given family and, when set,
// the given identifier (case-insensitive). Exactly one match is returned;
// several unnamed matches produce *fault.AmbiguousSelectionError.
func Select(all []Endpoint, family, identifier string) (Endpoint, error) {
	var candidates []Endpoint
	for _, db := range all {
		if !Matches(family, db.Engine) {
			continue
		}
		if identifier != "" && !strings.EqualFold(db.Identifier, identifier) {
			continue
		}
		candidates = append(candidates, db)
	}
	switch len(candidates) {
	case 0:
		if identifier != "" {
			return Endpoint{}, fault.E(fault.ErrNoMatch, nil, "no %s database named %q found", family, identifier)
		}
		return Endpoint{}, fault.E(fault.ErrNoMatch, nil, "no matching %s database found", family)
	case 1:
		return candidates[0], nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Identifier
	}
	return Endpoint{}, &fault.AmbiguousSelectionError{Candidates: ids}
}
