package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/meshflow/meshflow-server/pkg/apperr"
	"github.com/meshflow/meshflow-server/pkg/auth"
	"github.com/meshflow/meshflow-server/pkg/config"
	"github.com/meshflow/meshflow-server/pkg/ingest"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
	"github.com/meshflow/meshflow-server/pkg/store"
)

const apiKeyHeader = "X-API-Key"

type WebRouter struct {
	config   *config.Configuration
	storage  store.Stores
	engine   *ingest.Engine
	Notifier *MessageNotifier
}

func NewWebRouter(cfg *config.Configuration, storage store.Stores, engine *ingest.Engine, notifier *MessageNotifier) *WebRouter {
	return &WebRouter{
		config:   cfg,
		storage:  storage,
		engine:   engine,
		Notifier: notifier,
	}
}

// Router builds the route table.
func (wr *WebRouter) Router() *mux.Router {
	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/api/packets", wr.ingestPackets).Methods("POST")

	myRouter.HandleFunc("/api/nodes", wr.getNodes).Methods("GET")
	myRouter.HandleFunc("/api/nodes/mine", wr.getMyNodes).Methods("GET")
	myRouter.HandleFunc("/api/nodes/{id}", wr.getNode).Methods("GET")
	myRouter.HandleFunc("/api/nodes/{id}/claim", wr.issueClaim).Methods("POST")
	myRouter.HandleFunc("/api/nodes/{id}/claim", wr.claimStatus).Methods("GET")
	myRouter.HandleFunc("/api/nodes/{id}/claim", wr.withdrawClaim).Methods("DELETE")

	myRouter.HandleFunc("/api/messages", wr.getMessages).Methods("GET")
	myRouter.HandleFunc("/api/messages/sse", wr.messagesSSE).Methods("GET")
	myRouter.HandleFunc("/api/stats", wr.getStats).Methods("GET")

	myRouter.HandleFunc("/api/keys", wr.createApiKey).Methods("POST")
	myRouter.HandleFunc("/api/keys", wr.getApiKeys).Methods("GET")
	myRouter.HandleFunc("/api/keys/{id}", wr.revokeApiKey).Methods("DELETE")
	myRouter.HandleFunc("/api/keys/{id}/nodes", wr.linkApiKeyNode).Methods("POST")
	myRouter.HandleFunc("/api/keys/{id}/nodes/{nodeId}", wr.unlinkApiKeyNode).Methods("DELETE")

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	return myRouter
}

// Serve blocks on the configured listen address with panic recovery installed.
func (wr *WebRouter) Serve() error {
	h := handlers.RecoveryHandler()
	return http.ListenAndServe(wr.config.ListenAddr, h(wr.Router()))
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Info("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		// Call the next handler in the chain.
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperr.CodeUnknown
	msg := "internal error"

	var ae *apperr.AppError
	if errors.As(err, &ae) {
		code = ae.Code
		msg = ae.Message
		switch ae.Code {
		case apperr.CodeUnauthenticated:
			status = http.StatusUnauthorized
		case apperr.CodePermissionDenied:
			status = http.StatusForbidden
		case apperr.CodeNotFound:
			status = http.StatusNotFound
		case apperr.CodeInvalidArgument:
			status = http.StatusBadRequest
		case apperr.CodeAlreadyExists, apperr.CodeFailedPrecondition:
			status = http.StatusConflict
		}
	} else {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// requireUser resolves the Authorization bearer token to a user. Writes a
// 401 and returns nil when the token is missing or unknown.
func (wr *WebRouter) requireUser(w http.ResponseWriter, r *http.Request) *models.User {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeError(w, apperr.ErrUnauthorized)
		return nil
	}
	user, err := wr.storage.Users.GetByToken(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return nil
	}
	if user == nil {
		writeError(w, apperr.ErrUnauthorized)
		return nil
	}
	return user
}

// parseNodeIDVar accepts both forms of a node ID: decimal or !hex.
func parseNodeIDVar(s string) (mesh.NodeID, error) {
	if strings.HasPrefix(s, "!") || s == "^all" {
		return mesh.ParseNodeID(s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidArgument, "invalid node id", err)
	}
	return mesh.NodeID(v), nil
}

type ingestRequest struct {
	// Receiver is the integer node ID of the managed node that captured
	// this batch. The presented API key must be linked to it.
	Receiver int64             `json:"receiver"`
	Packets  []json.RawMessage `json:"packets"`
}

type ingestResponse struct {
	Results []ingest.PacketResult `json:"results"`
}

// ingestPackets is the packet ingestion endpoint. Authentication runs
// before the packet payloads are parsed; a rejected key stores nothing.
func (wr *WebRouter) ingestPackets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secret := r.Header.Get(apiKeyHeader)
	if secret == "" {
		writeError(w, apperr.ErrUnauthorized)
		return
	}
	key, err := wr.storage.ApiKeys.Authenticate(ctx, secret)
	if err != nil {
		writeError(w, err)
		return
	}
	if key == nil {
		writeError(w, apperr.ErrUnauthorized)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err))
		return
	}

	receiver, err := wr.storage.ApiKeys.LinkedManagedNode(ctx, key.ID, mesh.NodeID(req.Receiver))
	if err != nil {
		writeError(w, err)
		return
	}
	if receiver == nil {
		writeError(w, apperr.ErrKeyNotLinked)
		return
	}

	results := wr.engine.IngestBatch(ctx, receiver, req.Packets)

	if err := wr.storage.ApiKeys.TouchLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
		slog.Warn("error updating api key last_used", "key_id", key.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, ingestResponse{Results: results})
}

type claimResponse struct {
	NodeID      string             `json:"node_id"`
	NodeStatus  models.ClaimStatus `json:"node_status"`
	ClaimKey    string             `json:"claim_key,omitempty"`
	ClaimStatus models.ClaimState  `json:"claim_status,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
}

func (wr *WebRouter) issueClaim(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	nodeID, err := parseNodeIDVar(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	claim, err := wr.engine.Claims().IssueClaim(r.Context(), nodeID, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimResponse{
		NodeID:      nodeID.String(),
		NodeStatus:  models.StatusPendingClaim,
		ClaimKey:    claim.ClaimKey,
		ClaimStatus: claim.Status,
		ExpiresAt:   &claim.ExpiresAt,
	})
}

func (wr *WebRouter) claimStatus(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	nodeID, err := parseNodeIDVar(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	node, claim, err := wr.engine.Claims().Status(r.Context(), nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := claimResponse{NodeID: node.NodeIDStr, NodeStatus: node.ClaimStatus}
	// The claim key is only ever shown to the user who requested it.
	if claim != nil && claim.UserID == user.ID {
		resp.ClaimKey = claim.ClaimKey
		resp.ClaimStatus = claim.Status
		resp.ExpiresAt = &claim.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (wr *WebRouter) withdrawClaim(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	nodeID, err := parseNodeIDVar(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := wr.engine.Claims().Withdraw(r.Context(), nodeID, user); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (wr *WebRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	if wr.requireUser(w, r) == nil {
		return
	}
	nodes, err := wr.storage.Nodes.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (wr *WebRouter) getMyNodes(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	nodes, err := wr.storage.Nodes.ListByOwner(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (wr *WebRouter) getNode(w http.ResponseWriter, r *http.Request) {
	if wr.requireUser(w, r) == nil {
		return
	}
	nodeID, err := parseNodeIDVar(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	node, err := wr.storage.Nodes.GetByNodeID(r.Context(), nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, apperr.ErrNodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (wr *WebRouter) getMessages(w http.ResponseWriter, r *http.Request) {
	if wr.requireUser(w, r) == nil {
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	msgs, err := wr.storage.TextMessages.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (wr *WebRouter) getStats(w http.ResponseWriter, r *http.Request) {
	if wr.requireUser(w, r) == nil {
		return
	}
	sum, err := wr.storage.Stats.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type createApiKeyRequest struct {
	Name            string    `json:"name"`
	ConstellationID uuid.UUID `json:"constellation_id"`
}

type createApiKeyResponse struct {
	ID uuid.UUID `json:"id"`
	// Key is returned exactly once; only its hash is stored.
	Key  string `json:"key"`
	Name string `json:"name"`
}

func (wr *WebRouter) createApiKey(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	var req createApiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err))
		return
	}
	if req.Name == "" {
		writeError(w, apperr.New(apperr.CodeInvalidArgument, "name is required"))
		return
	}

	secret, err := auth.NewAPIKeySecret()
	if err != nil {
		writeError(w, err)
		return
	}
	key := &models.ApiKey{
		ID:              uuid.New(),
		KeyHash:         auth.HashSecret(secret),
		Name:            req.Name,
		OwnerID:         user.ID,
		ConstellationID: req.ConstellationID,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := wr.storage.ApiKeys.Add(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createApiKeyResponse{ID: key.ID, Key: secret, Name: key.Name})
}

func (wr *WebRouter) getApiKeys(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	keys, err := wr.storage.ApiKeys.ListByOwner(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// ownedApiKey loads the key in {id} and checks it belongs to the caller.
func (wr *WebRouter) ownedApiKey(w http.ResponseWriter, r *http.Request, user *models.User) *models.ApiKey {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "invalid key id", err))
		return nil
	}
	key, err := wr.storage.ApiKeys.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil
	}
	if key == nil || key.OwnerID != user.ID {
		writeError(w, apperr.New(apperr.CodeNotFound, "api key not found"))
		return nil
	}
	return key
}

func (wr *WebRouter) revokeApiKey(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	key := wr.ownedApiKey(w, r, user)
	if key == nil {
		return
	}
	if err := wr.storage.ApiKeys.Revoke(r.Context(), key.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkNodeRequest struct {
	NodeID int64 `json:"node_id"`
}

func (wr *WebRouter) linkApiKeyNode(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	key := wr.ownedApiKey(w, r, user)
	if key == nil {
		return
	}
	var req linkNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err))
		return
	}
	managed, err := wr.storage.ManagedNodes.GetByNodeID(r.Context(), mesh.NodeID(req.NodeID))
	if err != nil {
		writeError(w, err)
		return
	}
	if managed == nil {
		writeError(w, apperr.ErrNodeNotFound)
		return
	}
	if managed.ConstellationID != key.ConstellationID {
		writeError(w, apperr.New(apperr.CodeInvalidArgument, "node does not belong to the key's constellation"))
		return
	}
	if err := wr.storage.ApiKeys.LinkNode(r.Context(), key.ID, managed.InternalID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (wr *WebRouter) unlinkApiKeyNode(w http.ResponseWriter, r *http.Request) {
	user := wr.requireUser(w, r)
	if user == nil {
		return
	}
	key := wr.ownedApiKey(w, r, user)
	if key == nil {
		return
	}
	nodeID, err := parseNodeIDVar(mux.Vars(r)["nodeId"])
	if err != nil {
		writeError(w, err)
		return
	}
	managed, err := wr.storage.ManagedNodes.GetByNodeID(r.Context(), nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if managed == nil {
		writeError(w, apperr.ErrNodeNotFound)
		return
	}
	if err := wr.storage.ApiKeys.UnlinkNode(r.Context(), key.ID, managed.InternalID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
