package escrowapi

type CreateEscrowRequest struct {
	InvoiceID        string  `json:"invoice_id"`
	Seller           string  `json:"seller"`
	Buyer            string  `json:"buyer"`
	Amount           string  `json:"amount"`
	Token            string  `json:"token"`
	DurationSeconds  int64   `json:"duration_seconds"`
	RWANFTContract   string  `json:"rwa_nft_contract,omitempty"`
	RWATokenID       string  `json:"rwa_token_id,omitempty"`
	DiscountBps      int     `json:"discount_bps,omitempty"`
	DiscountDeadline *string `json:"discount_deadline,omitempty"`
}

type CallerRequest struct {
	Caller string `json:"caller"`
}

type ApproverRequest struct {
	Approver string `json:"approver"`
}

type VoteRequest struct {
	Arbitrator   string `json:"arbitrator"`
	VoteForBuyer bool   `json:"vote_for_buyer"`
}

type SafeEscapeRequest struct {
	SellerWins bool `json:"seller_wins"`
}

type EscrowResponse struct {
	InvoiceID       string `json:"invoice_id"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	Amount          string `json:"amount"`
	Token           string `json:"token"`
	Status          string `json:"status"`
	SellerConfirmed bool   `json:"seller_confirmed"`
	BuyerConfirmed  bool   `json:"buyer_confirmed"`
	DisputeRaised   bool   `json:"dispute_raised"`
	CreatedAt       string `json:"created_at"`
	ExpiresAt       string `json:"expires_at"`
	FeeAmount       string `json:"fee_amount"`
}

type MultiSigResponse struct {
	InvoiceID string   `json:"invoice_id"`
	Approvers []string `json:"approvers"`
	Required  int      `json:"required"`
}

type DisputeVoteResponse struct {
	InvoiceID             string   `json:"invoice_id"`
	SnapshotArbitratorCnt int      `json:"snapshot_arbitrator_count"`
	VotesForBuyer         int      `json:"votes_for_buyer"`
	VotesForSeller        int      `json:"votes_for_seller"`
	Resolved              bool     `json:"resolved"`
	VotedArbitrators      []string `json:"voted_arbitrators"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
