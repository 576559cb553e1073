// Package etcdlock implements leader election for the coordinator
// over an etcd session and concurrency.Election, exposing a
// try/maintain/resign surface: TryBecomeLeader campaigns for at most
// two seconds and returns false, without error, if another node still
// holds the election when that window ends.
package etcdlock

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"taskqueue/pkg/taskerr"
)

const electionPrefix = "taskqueue:leader"

// Elector campaigns for and maintains leadership of a single named
// election using an etcd lease-backed session.
type Elector struct {
	client   *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	value    string
	isLeader bool
}

// New connects to etcd and opens a concurrency session with the given
// lease TTL (seconds).
func New(endpoints []string, ttlSeconds int, value string) (*Elector, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, &taskerr.TransientBackendError{Backend: "etcd", Err: err}
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		cli.Close()
		return nil, &taskerr.TransientBackendError{Backend: "etcd", Err: err}
	}

	return &Elector{
		client:   cli,
		session:  sess,
		election: concurrency.NewElection(sess, electionPrefix),
		value:    value,
	}, nil
}

// TryBecomeLeader makes a single attempt to win the election,
// campaigning for at most two seconds (less if ctx ends sooner) and
// returning false without error if the campaign has not won by then.
func (e *Elector) TryBecomeLeader(ctx context.Context) (bool, error) {
	campaignCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := e.election.Campaign(campaignCtx, e.value); err != nil {
		if campaignCtx.Err() != nil {
			return false, nil
		}
		return false, &taskerr.LockError{Key: "leader", Op: "campaign", Err: err}
	}
	e.isLeader = true
	return true, nil
}

// MaintainLeadership reports whether this elector is still the
// recognized leader, reconciling against the etcd-observed leader.
func (e *Elector) MaintainLeadership(ctx context.Context) (bool, error) {
	if !e.isLeader {
		return false, nil
	}
	leader, err := e.Leader(ctx)
	if err != nil {
		e.isLeader = false
		return false, err
	}
	if leader != e.value {
		e.isLeader = false
	}
	return e.isLeader, nil
}

// Resign voluntarily releases leadership.
func (e *Elector) Resign(ctx context.Context) error {
	if !e.isLeader {
		return nil
	}
	if err := e.election.Resign(ctx); err != nil {
		return &taskerr.LockError{Key: "leader", Op: "resign", Err: err}
	}
	e.isLeader = false
	return nil
}

// Leader returns the current leader's advertised value.
func (e *Elector) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		return "", fmt.Errorf("taskqueue: no leader elected: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("taskqueue: no leader elected")
	}
	return string(resp.Kvs[0].Value), nil
}

// IsLeader reports this elector's last-known leadership state without
// a round trip to etcd.
func (e *Elector) IsLeader() bool {
	return e.isLeader
}

// Close releases the session and underlying client.
func (e *Elector) Close() error {
	if e.session != nil {
		e.session.Close()
	}
	return e.client.Close()
}
