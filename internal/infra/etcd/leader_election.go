package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"distributed-prover/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	LeaderElectionKey = "/prover/coordinator/leader"
)

type etcdLeaderElectionManager struct {
	client   *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	isLeader bool
	mutex    sync.RWMutex
	nodeID   string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewEtcdLeaderElectionManager elects one dispatching coordinator among all
// coordinators sharing an etcd cluster.
func NewEtcdLeaderElectionManager(client *clientv3.Client, nodeID string, ttl time.Duration, logger *slog.Logger) domain.LeaderElectionManager {
	return &etcdLeaderElectionManager{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger.With("component", "leader-election"),
	}
}

func (m *etcdLeaderElectionManager) Campaign(ctx context.Context) (<-chan struct{}, error) {
	// The session lease expires if this node dies, handing leadership on.
	session, err := concurrency.NewSession(m.client, concurrency.WithTTL(int(m.ttl.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to create election session: %w", err)
	}
	election := concurrency.NewElection(session, LeaderElectionKey)

	// Blocks until this node is the leader or ctx is cancelled.
	if err := election.Campaign(ctx, m.nodeID); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("campaign for %s: %w", LeaderElectionKey, err)
	}

	m.logger.Info("successfully campaigned and became the leader", "node_id", m.nodeID)
	m.mutex.Lock()
	m.session = session
	m.election = election
	m.isLeader = true
	m.mutex.Unlock()

	return session.Done(), nil
}

func (m *etcdLeaderElectionManager) Resign(ctx context.Context) error {
	m.mutex.Lock()
	session, election := m.session, m.election
	m.session, m.election = nil, nil
	m.isLeader = false
	m.mutex.Unlock()

	if election == nil {
		return nil
	}
	m.logger.Info("resigning leadership", "node_id", m.nodeID)
	err := election.Resign(ctx)
	_ = session.Close()
	if err != nil {
		return fmt.Errorf("resign leadership: %w", err)
	}
	return nil
}

func (m *etcdLeaderElectionManager) IsLeader() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.isLeader
}
