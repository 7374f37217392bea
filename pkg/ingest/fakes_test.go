package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/apperr"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
	"github.com/meshflow/meshflow-server/pkg/store"
)

// In-memory store fakes mirroring the transactional behavior of the
// Postgres implementations closely enough for pipeline tests.

type fakeNodeStore struct {
	mu    sync.Mutex
	nodes map[mesh.NodeID]*models.Node
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{nodes: map[mesh.NodeID]*models.Node{}}
}

func (s *fakeNodeStore) Resolve(ctx context.Context, nodeID mesh.NodeID) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		cp := *n
		return &cp, nil
	}
	n := &models.Node{
		InternalID:  uuid.New(),
		NodeID:      nodeID,
		NodeIDStr:   nodeID.String(),
		ClaimStatus: models.StatusUnclaimed,
	}
	s.nodes[nodeID] = n
	cp := *n
	return &cp, nil
}

func (s *fakeNodeStore) GetByNodeID(ctx context.Context, nodeID mesh.NodeID) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *fakeNodeStore) ApplyNodeInfo(ctx context.Context, nodeID mesh.NodeID, upd store.NodeInfoUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil
	}
	if n.NodeInfoTime != nil && n.NodeInfoTime.After(upd.RxTime) {
		return nil
	}
	if upd.ShortName != nil {
		n.ShortName = upd.ShortName
	}
	if upd.LongName != nil {
		n.LongName = upd.LongName
	}
	if upd.MacAddr != nil {
		n.MacAddr = upd.MacAddr
	}
	if upd.HwModel != nil {
		n.HwModel = upd.HwModel
	}
	if upd.SwVersion != nil {
		n.SwVersion = upd.SwVersion
	}
	if upd.Role != nil {
		n.Role = upd.Role
	}
	if upd.PublicKey != nil {
		n.PublicKey = upd.PublicKey
	}
	t := upd.RxTime
	n.NodeInfoTime = &t
	return nil
}

func (s *fakeNodeStore) TouchLastHeard(ctx context.Context, nodeID mesh.NodeID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil
	}
	if n.LastHeard == nil || n.LastHeard.Before(at) {
		n.LastHeard = &at
	}
	return nil
}

func (s *fakeNodeStore) SetLastPosition(ctx context.Context, nodeID mesh.NodeID, lat, lon, alt *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		n.Latitude, n.Longitude, n.Altitude = lat, lon, alt
	}
	return nil
}

func (s *fakeNodeStore) List(ctx context.Context) ([]*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Node{}
	for _, n := range s.nodes {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeNodeStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Node{}
	for _, n := range s.nodes {
		if n.OwnerID != nil && *n.OwnerID == ownerID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

// byInternalID is a test helper, not part of the store interface.
func (s *fakeNodeStore) byInternalID(id uuid.UUID) *models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.InternalID == id {
			return n
		}
	}
	return nil
}

type fakeRawPacketStore struct {
	mu      sync.Mutex
	packets []*models.RawPacket
	seen    map[models.DedupKey]bool
	failIng bool
}

func newFakeRawPacketStore() *fakeRawPacketStore {
	return &fakeRawPacketStore{seen: map[models.DedupKey]bool{}}
}

func (s *fakeRawPacketStore) AppendIfNew(ctx context.Context, pkt *models.RawPacket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIng {
		return false, apperr.New(apperr.CodeUnknown, "storage down")
	}
	key := pkt.DedupKey()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	s.packets = append(s.packets, pkt)
	return true, nil
}

func (s *fakeRawPacketStore) ListBySender(ctx context.Context, fromInt int64, limit int) ([]*models.RawPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.RawPacket{}
	for _, p := range s.packets {
		if int64(p.FromInt) == fromInt {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeClaimStore emulates the transactional coupling between claim rows
// and node status that the Postgres store gets from its transactions.
type fakeClaimStore struct {
	mu     sync.Mutex
	claims map[uuid.UUID]*models.ClaimRequest
	nodes  *fakeNodeStore
}

func newFakeClaimStore(nodes *fakeNodeStore) *fakeClaimStore {
	return &fakeClaimStore{claims: map[uuid.UUID]*models.ClaimRequest{}, nodes: nodes}
}

func (s *fakeClaimStore) GetPendingByNode(ctx context.Context, nodeInternalID uuid.UUID) (*models.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.claims {
		if c.NodeInternalID == nodeInternalID && c.Status == models.ClaimPending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeClaimStore) Issue(ctx context.Context, claim *models.ClaimRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.claims {
		if c.NodeInternalID == claim.NodeInternalID && c.Status == models.ClaimPending {
			return apperr.ErrClaimInProgress
		}
	}
	node := s.nodes.byInternalID(claim.NodeInternalID)
	if node == nil || node.ClaimStatus != models.StatusUnclaimed {
		return apperr.ErrAlreadyClaimed
	}
	node.ClaimStatus = models.StatusPendingClaim
	cp := *claim
	s.claims[claim.ID] = &cp
	return nil
}

func (s *fakeClaimStore) Fulfill(ctx context.Context, claim *models.ClaimRequest, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claim.ID]
	if !ok || c.Status != models.ClaimPending {
		return false, nil
	}
	c.Status = models.ClaimFulfilled
	c.FulfilledAt = &at
	if node := s.nodes.byInternalID(c.NodeInternalID); node != nil {
		node.ClaimStatus = models.StatusClaimed
		owner := c.UserID
		node.OwnerID = &owner
	}
	return true, nil
}

func (s *fakeClaimStore) Expire(ctx context.Context, claim *models.ClaimRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claim.ID]
	if !ok || c.Status != models.ClaimPending {
		return false, nil
	}
	c.Status = models.ClaimExpired
	if node := s.nodes.byInternalID(c.NodeInternalID); node != nil && node.ClaimStatus == models.StatusPendingClaim {
		node.ClaimStatus = models.StatusUnclaimed
	}
	return true, nil
}

func (s *fakeClaimStore) ListPendingExpiredBefore(ctx context.Context, cutoff time.Time) ([]*models.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.ClaimRequest{}
	for _, c := range s.claims {
		if c.Status == models.ClaimPending && c.ExpiresAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeClaimStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.ClaimRequest{}
	for _, c := range s.claims {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakePositionStore struct {
	mu   sync.Mutex
	rows []*models.Position
}

func (s *fakePositionStore) Add(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, p)
	return nil
}

func (s *fakePositionStore) ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.Position, error) {
	return s.rows, nil
}

type fakeDeviceMetricsStore struct {
	mu   sync.Mutex
	rows []*models.DeviceMetrics
}

func (s *fakeDeviceMetricsStore) Add(ctx context.Context, m *models.DeviceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, m)
	return nil
}

func (s *fakeDeviceMetricsStore) ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.DeviceMetrics, error) {
	return s.rows, nil
}

type fakeEnvironmentMetricsStore struct {
	mu   sync.Mutex
	rows []*models.EnvironmentMetrics
}

func (s *fakeEnvironmentMetricsStore) Add(ctx context.Context, m *models.EnvironmentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, m)
	return nil
}

func (s *fakeEnvironmentMetricsStore) ListByNode(ctx context.Context, nodeInternalID uuid.UUID, limit int) ([]*models.EnvironmentMetrics, error) {
	return s.rows, nil
}

type fakeTextMessageStore struct {
	mu   sync.Mutex
	rows []*models.TextMessage
}

func (s *fakeTextMessageStore) Add(ctx context.Context, m *models.TextMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, m)
	return nil
}

func (s *fakeTextMessageStore) ListRecent(ctx context.Context, limit int) ([]*models.TextMessage, error) {
	return s.rows, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []*models.TextMessage
}

func (n *fakeNotifier) NotifyTextMessage(msg *models.TextMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}
