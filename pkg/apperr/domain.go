package apperr

var (
	// Ingestion
	ErrUnauthorized    = New(CodeUnauthenticated, "unknown or revoked API key")
	ErrKeyNotLinked    = New(CodePermissionDenied, "API key not authorized for this node")
	ErrMalformedPacket = New(CodeInvalidArgument, "packet is missing mandatory envelope fields")

	// Claims
	ErrNodeNotFound    = New(CodeNotFound, "node not found")
	ErrAlreadyClaimed  = New(CodeFailedPrecondition, "node is already claimed")
	ErrClaimInProgress = New(CodeAlreadyExists, "a claim is already pending for this node")
	ErrNoPendingClaim  = New(CodeNotFound, "no pending claim for this node")
)
