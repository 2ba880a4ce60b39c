package http

import (
	"time"

	"medledger/internal/domain"
)

type blockResponse struct {
	Index        int64             `json:"index"`
	Timestamp    string            `json:"timestamp"`
	Payload      map[string]string `json:"payload"`
	PreviousHash string            `json:"previous_hash"`
	Hash         string            `json:"hash"`
	Nonce        uint64            `json:"nonce"`
}

type receiptResponse struct {
	BlockHash     string `json:"block_hash"`
	BlockIndex    int64  `json:"block_index"`
	ContentHash   string `json:"content_hash,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	AuditError    string `json:"audit_error,omitempty"`
}

type verificationResponse struct {
	RecordID   string `json:"record_id"`
	Valid      bool   `json:"valid"`
	BlockHash  string `json:"block_hash,omitempty"`
	BlockIndex *int64 `json:"block_index,omitempty"`
	Message    string `json:"message"`
}

type transactionResponse struct {
	ID          string `json:"id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	RecordID    string `json:"record_id"`
	Action      string `json:"action"`
	InitiatorID string `json:"initiator_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type historyResponse struct {
	RecordID          string                `json:"record_id"`
	Blocks            []blockResponse       `json:"blocks"`
	Transactions      []transactionResponse `json:"transactions"`
	TotalTransactions int                   `json:"total_transactions"`
	TotalBlocks       int                   `json:"total_blocks"`
}

type ledgerInfoResponse struct {
	TotalBlocks int           `json:"total_blocks"`
	LatestBlock blockResponse `json:"latest_block"`
	IsValid     bool          `json:"is_valid"`
	Difficulty  int           `json:"difficulty"`
}

func toBlockResponse(b domain.Block) blockResponse {
	payload := map[string]string{}
	if b.Payload != nil {
		for k, v := range b.Payload.Fields() {
			payload[k] = v
		}
		payload["kind"] = string(b.Payload.Kind())
	}
	return blockResponse{
		Index:        b.Index,
		Timestamp:    b.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:      payload,
		PreviousHash: b.PreviousHash,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
	}
}

func toReceiptResponse(r domain.Receipt) receiptResponse {
	return receiptResponse{
		BlockHash:     r.BlockHash,
		BlockIndex:    r.BlockIndex,
		ContentHash:   r.ContentHash,
		TransactionID: r.TransactionID,
		AuditError:    r.AuditError,
	}
}

func toTransactionResponse(tx domain.AuditTransaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		TxHash:      tx.TxHash,
		BlockNumber: tx.BlockNumber,
		RecordID:    tx.RecordID,
		Action:      string(tx.Action),
		InitiatorID: tx.InitiatorID,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toHistoryResponse(h domain.RecordHistory) historyResponse {
	blocks := make([]blockResponse, 0, len(h.Blocks))
	for _, b := range h.Blocks {
		blocks = append(blocks, toBlockResponse(b))
	}
	txs := make([]transactionResponse, 0, len(h.Transactions))
	for _, tx := range h.Transactions {
		txs = append(txs, toTransactionResponse(tx))
	}
	return historyResponse{
		RecordID:          h.RecordID,
		Blocks:            blocks,
		Transactions:      txs,
		TotalTransactions: h.TotalTransactions,
		TotalBlocks:       h.TotalBlocks,
	}
}
