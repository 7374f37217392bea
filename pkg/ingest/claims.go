package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/apperr"
	"github.com/meshflow/meshflow-server/pkg/auth"
	"github.com/meshflow/meshflow-server/pkg/config"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
	"github.com/meshflow/meshflow-server/pkg/store"
)

// EvalResult is the outcome of testing a text message against a node's
// pending claim.
type EvalResult string

const (
	// EvalNoClaim: the sender has no pending claim; ordinary message.
	EvalNoClaim EvalResult = ""
	// EvalNoMatch: a pending claim exists but the text is not its key.
	EvalNoMatch EvalResult = "no_matching_claim"
	// EvalExpired: the pending claim's horizon had passed; it is now
	// expired and the node reverted to unclaimed.
	EvalExpired EvalResult = "claim_expired"
	// EvalFulfilled: the key matched and the node is now claimed.
	EvalFulfilled EvalResult = "claim_fulfilled"
)

// ClaimManager owns the node ownership state machine:
//
//	unclaimed -> pending_claim -> claimed
//	pending_claim -> unclaimed (expiry)
//
// Expiry is evaluated lazily whenever a pending claim is read; the
// periodic sweep only exists for storage hygiene.
type ClaimManager struct {
	cfg    config.ClaimSettings
	nodes  store.NodeStore
	claims store.ClaimStore
	log    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewClaimManager creates a claim manager over the given stores.
func NewClaimManager(cfg config.ClaimSettings, nodes store.NodeStore, claims store.ClaimStore, log *slog.Logger) *ClaimManager {
	if log == nil {
		log = slog.Default()
	}
	return &ClaimManager{cfg: cfg, nodes: nodes, claims: claims, log: log, now: time.Now}
}

// IssueClaim starts an ownership challenge for the node. The returned
// request carries the claim key the user must transmit from the node
// itself. Fails with ErrAlreadyClaimed or ErrClaimInProgress when the
// node's state forbids a new challenge.
func (cm *ClaimManager) IssueClaim(ctx context.Context, nodeID mesh.NodeID, user *models.User) (*models.ClaimRequest, error) {
	node, err := cm.nodes.GetByNodeID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, apperr.ErrNodeNotFound
	}
	if node.ClaimStatus == models.StatusClaimed {
		return nil, apperr.ErrAlreadyClaimed
	}

	now := cm.now()
	if pending, err := cm.claims.GetPendingByNode(ctx, node.InternalID); err != nil {
		return nil, err
	} else if pending != nil {
		if !pending.ExpiredBy(now) {
			return nil, apperr.ErrClaimInProgress
		}
		if _, err := cm.claims.Expire(ctx, pending); err != nil {
			return nil, err
		}
	}

	key, err := auth.NewClaimKey(cm.cfg.KeyLength)
	if err != nil {
		return nil, err
	}
	claim := &models.ClaimRequest{
		ID:             uuid.New(),
		NodeInternalID: node.InternalID,
		UserID:         user.ID,
		ClaimKey:       key,
		Status:         models.ClaimPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(cm.cfg.TTL),
	}
	if err := cm.claims.Issue(ctx, claim); err != nil {
		return nil, err
	}

	cm.log.Info("claim issued", "node_id", nodeID.String(), "user", user.UserName, "expires_at", claim.ExpiresAt)
	return claim, nil
}

// Status returns the node and its pending claim for UI polling, applying
// lazy expiry first.
func (cm *ClaimManager) Status(ctx context.Context, nodeID mesh.NodeID) (*models.Node, *models.ClaimRequest, error) {
	node, err := cm.nodes.GetByNodeID(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if node == nil {
		return nil, nil, apperr.ErrNodeNotFound
	}
	pending, err := cm.claims.GetPendingByNode(ctx, node.InternalID)
	if err != nil {
		return nil, nil, err
	}
	if pending != nil && pending.ExpiredBy(cm.now()) {
		if _, err := cm.claims.Expire(ctx, pending); err != nil {
			return nil, nil, err
		}
		pending = nil
		node, err = cm.nodes.GetByNodeID(ctx, nodeID)
		if err != nil {
			return nil, nil, err
		}
	}
	return node, pending, nil
}

// Withdraw cancels the user's pending claim for the node.
func (cm *ClaimManager) Withdraw(ctx context.Context, nodeID mesh.NodeID, user *models.User) error {
	node, err := cm.nodes.GetByNodeID(ctx, nodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return apperr.ErrNodeNotFound
	}
	pending, err := cm.claims.GetPendingByNode(ctx, node.InternalID)
	if err != nil {
		return err
	}
	if pending == nil || pending.UserID != user.ID {
		return apperr.ErrNoPendingClaim
	}
	_, err = cm.claims.Expire(ctx, pending)
	return err
}

// Evaluate tests a freshly stored text message against the sender's
// pending claim. Only called for non-duplicate packets; dedup plus the
// compare-and-swap in the store guarantee the pending->fulfilled flip
// happens at most once per claim.
func (cm *ClaimManager) Evaluate(ctx context.Context, sender *models.Node, text string) (EvalResult, error) {
	pending, err := cm.claims.GetPendingByNode(ctx, sender.InternalID)
	if err != nil {
		return EvalNoClaim, err
	}
	if pending == nil {
		return EvalNoClaim, nil
	}

	now := cm.now()
	if pending.ExpiredBy(now) {
		if _, err := cm.claims.Expire(ctx, pending); err != nil {
			return EvalNoClaim, err
		}
		cm.log.Info("claim expired", "node_id", sender.NodeID.String(), "claim_id", pending.ID)
		return EvalExpired, nil
	}

	// Exact, case-sensitive, full-text match only.
	if text != pending.ClaimKey {
		return EvalNoMatch, nil
	}

	won, err := cm.claims.Fulfill(ctx, pending, now)
	if err != nil {
		return EvalNoClaim, err
	}
	if !won {
		return EvalNoMatch, nil
	}
	cm.log.Info("claim fulfilled", "node_id", sender.NodeID.String(), "claim_id", pending.ID)
	return EvalFulfilled, nil
}

// ExpireStale marks every overdue pending claim expired. Optional hygiene;
// lazy evaluation already keeps results correct without it.
func (cm *ClaimManager) ExpireStale(ctx context.Context) error {
	stale, err := cm.claims.ListPendingExpiredBefore(ctx, cm.now())
	if err != nil {
		return err
	}
	for _, c := range stale {
		if _, err := cm.claims.Expire(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
