package models

import (
	"time"
)

// Credit transaction types. Every mutation of a wallet's credits or reserved
// columns appends exactly one row of one of these types.
const (
	CreditTxPurchase     = "purchase"
	CreditTxGrant        = "grant"
	CreditTxDeduction    = "deduction"
	CreditTxAgentMessage = "agent_message"
	CreditTxReserve      = "reserve"
	CreditTxRelease      = "release"
	CreditTxRefund       = "refund"
)

// Wallet is a row of credit_ledger.
type Wallet struct {
	Address        string     `json:"wallet_address"`
	Credits        int64      `json:"credits"`
	Reserved       int64      `json:"reserved"`
	TotalPurchased int64      `json:"total_purchased"`
	TotalConsumed  int64      `json:"total_consumed"`
	ReservedAt     *time.Time `json:"reserved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Available is the spendable part of the balance.
func (w *Wallet) Available() int64 {
	return w.Credits - w.Reserved
}

// Balance derives the public balance view.
func (w *Wallet) Balance() CreditBalance {
	return CreditBalance{
		WalletAddress:  w.Address,
		Credits:        w.Credits,
		Reserved:       w.Reserved,
		Available:      w.Available(),
		TotalPurchased: w.TotalPurchased,
		TotalConsumed:  w.TotalConsumed,
	}
}

type CreditBalance struct {
	WalletAddress  string `json:"wallet_address"`
	Credits        int64  `json:"credits"`
	Reserved       int64  `json:"reserved"`
	Available      int64  `json:"available"`
	TotalPurchased int64  `json:"total_purchased"`
	TotalConsumed  int64  `json:"total_consumed"`
}

type CreditTransaction struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	Reference     string    `json:"reference"`
	TxID          *string   `json:"txid,omitempty"`
	SessionID     *string   `json:"session_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreditsDelta is the signed change this entry applied to the credits column.
// Reserve and release only move the reserved sub-balance.
func (t *CreditTransaction) CreditsDelta() int64 {
	switch t.Type {
	case CreditTxPurchase, CreditTxGrant, CreditTxRefund:
		return t.Amount
	case CreditTxDeduction, CreditTxAgentMessage:
		return -t.Amount
	default:
		return 0
	}
}
