package eventchain

// AnchorBlock identifies the ledger block an anchor transaction was included in.
type AnchorBlock struct {
	Height int64 `json:"height"`
}

// AnchorTransaction is the position of an anchor transaction inside its block.
type AnchorTransaction struct {
	Position int64 `json:"position"`
}

// AnchorInfo is the commit metadata the anchoring service reports for a hash.
type AnchorInfo struct {
	Hash        string            `json:"hash,omitempty"`
	Block       AnchorBlock       `json:"block"`
	Transaction AnchorTransaction `json:"transaction"`
}

// Before reports whether a was committed strictly earlier than b.
func (a AnchorInfo) Before(b AnchorInfo) bool {
	if a.Block.Height != b.Block.Height {
		return a.Block.Height < b.Block.Height
	}
	return a.Transaction.Position < b.Transaction.Position
}

// AnchorRequest is the body posted to the anchoring service.
type AnchorRequest struct {
	Hash     string `json:"hash"`
	Encoding string `json:"encoding"`
}

// DispatcherInfo is returned by the dispatcher root endpoint.
type DispatcherInfo struct {
	Node string `json:"node"`
}

// WellKnownNode describes this node to its peers.
type WellKnownNode struct {
	Version   string            `json:"version"`
	Domain    string            `json:"domain"`
	Address   string            `json:"address"`
	SignKey   string            `json:"signkey"`
	Endpoints map[string]string `json:"endpoints"`
}

// DoneNotice is posted to resource services once a chain is fully processed.
type DoneNotice struct {
	ID       string `json:"id"`
	LastHash string `json:"lastHash"`
}
