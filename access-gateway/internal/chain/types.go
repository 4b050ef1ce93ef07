package chain

// Wire types of the Skycoin-family node REST API (/api/v1).

type transactionResponse struct {
	Status struct {
		Confirmed bool   `json:"confirmed"`
		Height    int    `json:"height"`
		BlockSeq  uint64 `json:"block_seq"`
	} `json:"status"`
	Time int64 `json:"time"`
	Txn  struct {
		Timestamp int64       `json:"timestamp"`
		TxID      string      `json:"txid"`
		Inputs    []txnInput  `json:"inputs"`
		Outputs   []txnOutput `json:"outputs"`
	} `json:"txn"`
}

type txnInput struct {
	UxID  string `json:"uxid"`
	Owner string `json:"owner"`
	Coins string `json:"coins"`
	Hours uint64 `json:"hours"`
}

type txnOutput struct {
	UxID  string `json:"uxid"`
	Dst   string `json:"dst"`
	Coins string `json:"coins"`
	Hours uint64 `json:"hours"`
}

type balancePair struct {
	Coins uint64 `json:"coins"` // droplets
	Hours uint64 `json:"hours"`
}

type balanceResponse struct {
	Confirmed balancePair `json:"confirmed"`
	Predicted balancePair `json:"predicted"`
}
