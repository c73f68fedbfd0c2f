// Package types holds the data model shared with the driving process:
// the Buffer memory protocol and the JSON-encoded environment, message,
// and response shapes contracts see.
package types

// CanonicalAddress is the binary form of an account address.
type CanonicalAddress = []byte

// ContractKey identifies the sealed key material bound to a contract
// instance inside the enclave.
type ContractKey string

// Env describes the trusted chain state a contract runs against. It is
// JSON encoded before entering the VM; nothing in it may come from
// unverified transaction data.
type Env struct {
	Block    BlockInfo    `json:"block"`
	Message  MessageInfo  `json:"message"`
	Contract ContractInfo `json:"contract"`
	Key      ContractKey  `json:"contract_key"`
}

type BlockInfo struct {
	Height  int64  `json:"height"`
	Time    int64  `json:"time"` // seconds since unix epoch
	ChainID string `json:"chain_id"`
}

type MessageInfo struct {
	Signer    CanonicalAddress `json:"signer"`
	SentFunds []Coin           `json:"sent_funds"`
}

type ContractInfo struct {
	Address CanonicalAddress `json:"address"`
	Balance []Coin           `json:"balance"`
}

// Coin is the string form of a token amount, more portable than a
// fixed-width integer across the boundary.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// CosmosResponse is the raw result envelope returned by the init,
// handle, and migrate entry points.
type CosmosResponse struct {
	Ok  Result `json:"ok"`
	Err string `json:"err"`
}

// Result carries a successful contract response. GasUsed is filled in by
// the calling side, never by the contract.
type Result struct {
	GasUsed  uint64         `json:"gas_used"`
	Messages []CosmosMsg    `json:"messages"`
	Data     string         `json:"data"` // base64
	Log      []LogAttribute `json:"log"`
}

type LogAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CosmosMsg is a one-of: exactly one field is set.
type CosmosMsg struct {
	Send     *SendMsg     `json:"send,omitempty"`
	Contract *ContractMsg `json:"contract,omitempty"`
	Opaque   *OpaqueMsg   `json:"opaque,omitempty"`
}

// SendMsg asks the chain to transfer funds on the contract's behalf.
type SendMsg struct {
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Amount      []Coin `json:"amount"`
}

// ContractMsg calls another contract already instantiated on this chain.
type ContractMsg struct {
	ContractAddr string `json:"contract_addr"`
	Msg          []byte `json:"msg"`
	Send         []Coin `json:"send"`
}

// OpaqueMsg relays a raw chain transaction the contract itself never
// inspects or constructs.
type OpaqueMsg struct {
	Data []byte `json:"data"`
}

// QueryResponse is the result envelope of the query entry point.
type QueryResponse struct {
	Ok  []byte `json:"ok"`
	Err string `json:"err"`
}

// GasReport summarizes metering for one boundary call.
type GasReport struct {
	Limit     uint64 `json:"limit"`
	Remaining uint64 `json:"remaining"`
	Used      uint64 `json:"used"`
}
