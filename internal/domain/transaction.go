package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType tags the operation being evaluated. Each type carries its
// own strongly-typed counterparty field set on TransactionContext; the
// mapping from raw caller fields happens in exactly one place (NormalizeContext).
type TransactionType string

const (
	TxTypeCryptoSwap    TransactionType = "crypto_swap"
	TxTypeBoletoPayment TransactionType = "boleto_payment"
	TxTypeWithdrawal    TransactionType = "withdrawal"
	TxTypeDeposit       TransactionType = "deposit"
	TxTypePixTransfer   TransactionType = "pix_transfer"
	TxTypeOther         TransactionType = "other"
)

// KYCLevel represents the tiered identity-verification status of a user
type KYCLevel int

const (
	KYCLevel0 KYCLevel = iota // unverified
	KYCLevel1                 // basic identity
	KYCLevel2                 // address verified
	KYCLevel3                 // enhanced due diligence
)

// String returns the wire representation of the KYC level
func (l KYCLevel) String() string {
	switch l {
	case KYCLevel1:
		return "LEVEL_1"
	case KYCLevel2:
		return "LEVEL_2"
	case KYCLevel3:
		return "LEVEL_3"
	default:
		return "LEVEL_0"
	}
}

// CryptoSwapDetails are the counterparty fields of a stablecoin swap
type CryptoSwapDetails struct {
	FromToken     string `json:"from_token"`
	ToToken       string `json:"to_token"`
	WalletAddress string `json:"wallet_address"`
}

// BoletoDetails are the counterparty fields of a boleto payment
type BoletoDetails struct {
	BarCode  string `json:"bar_code"`
	Assignor string `json:"assignor"`
}

// WithdrawalDetails are the counterparty fields of a withdrawal payout
type WithdrawalDetails struct {
	BankAccount string `json:"bank_account"`
	PixKey      string `json:"pix_key,omitempty"`
}

// DepositDetails are the counterparty fields of a deposit
type DepositDetails struct {
	Method string `json:"method"` // pix, ted, card
}

// PixTransferDetails are the counterparty fields of an instant transfer
type PixTransferDetails struct {
	PixKey           string `json:"pix_key"`
	ReceiverDocument string `json:"receiver_document,omitempty"`
}

// TransactionContext is the normalized shape every evaluation runs against.
// It is created fresh per request from caller-supplied fields and is never
// persisted by the fraud engine itself.
type TransactionContext struct {
	ID       uuid.UUID       `json:"id"`
	Type     TransactionType `json:"type"`
	UserID   string          `json:"user_id"`
	Amount   float64         `json:"amount"`
	Currency string          `json:"currency"`

	// Identity/session fields supplied by the identity provider
	UserEmail     string   `json:"user_email,omitempty"`
	UserIP        string   `json:"user_ip,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	WalletAddress string   `json:"wallet_address,omitempty"`
	KYCLevel      KYCLevel `json:"kyc_level"`

	// Exactly one of the detail fields is set, selected by Type
	CryptoSwap  *CryptoSwapDetails  `json:"crypto_swap,omitempty"`
	Boleto      *BoletoDetails      `json:"boleto,omitempty"`
	Withdrawal  *WithdrawalDetails  `json:"withdrawal,omitempty"`
	Deposit     *DepositDetails     `json:"deposit,omitempty"`
	PixTransfer *PixTransferDetails `json:"pix_transfer,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// RawTransaction is the loose payload submitted by the transaction-data
// source before normalization
type RawTransaction struct {
	Type     string  `json:"type"`
	UserID   string  `json:"user_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	UserEmail     string `json:"user_email,omitempty"`
	UserIP        string `json:"user_ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	KYCLevel      int    `json:"kyc_level"`

	// Type-specific fields; only the ones matching Type are read
	FromToken        string `json:"from_token,omitempty"`
	ToToken          string `json:"to_token,omitempty"`
	BarCode          string `json:"bar_code,omitempty"`
	Assignor         string `json:"assignor,omitempty"`
	BankAccount      string `json:"bank_account,omitempty"`
	PixKey           string `json:"pix_key,omitempty"`
	ReceiverDocument string `json:"receiver_document,omitempty"`
	DepositMethod    string `json:"deposit_method,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NormalizeContext maps a raw caller payload into the common evaluation
// shape. This is the single place where per-type fields are interpreted.
func NormalizeContext(raw *RawTransaction) *TransactionContext {
	ctx := &TransactionContext{
		ID:            uuid.New(),
		UserID:        raw.UserID,
		Amount:        raw.Amount,
		Currency:      raw.Currency,
		UserEmail:     raw.UserEmail,
		UserIP:        raw.UserIP,
		UserAgent:     raw.UserAgent,
		WalletAddress: raw.WalletAddress,
		KYCLevel:      KYCLevel(raw.KYCLevel),
		Timestamp:     raw.Timestamp,
	}
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now().UTC()
	}

	switch TransactionType(raw.Type) {
	case TxTypeCryptoSwap:
		ctx.Type = TxTypeCryptoSwap
		ctx.CryptoSwap = &CryptoSwapDetails{
			FromToken:     raw.FromToken,
			ToToken:       raw.ToToken,
			WalletAddress: raw.WalletAddress,
		}
	case TxTypeBoletoPayment:
		ctx.Type = TxTypeBoletoPayment
		ctx.Boleto = &BoletoDetails{
			BarCode:  raw.BarCode,
			Assignor: raw.Assignor,
		}
	case TxTypeWithdrawal:
		ctx.Type = TxTypeWithdrawal
		ctx.Withdrawal = &WithdrawalDetails{
			BankAccount: raw.BankAccount,
			PixKey:      raw.PixKey,
		}
	case TxTypeDeposit:
		ctx.Type = TxTypeDeposit
		ctx.Deposit = &DepositDetails{Method: raw.DepositMethod}
	case TxTypePixTransfer:
		ctx.Type = TxTypePixTransfer
		ctx.PixTransfer = &PixTransferDetails{
			PixKey:           raw.PixKey,
			ReceiverDocument: raw.ReceiverDocument,
		}
	default:
		ctx.Type = TxTypeOther
	}

	return ctx
}

// Identifiers derives every blacklist-checkable entity present in the
// context: user id, email, IP, wallet address, bank account, document.
func (c *TransactionContext) Identifiers() []EntityRef {
	refs := make([]EntityRef, 0, 6)

	if c.UserID != "" {
		refs = append(refs, EntityRef{Type: EntityTypeUser, Value: c.UserID})
	}
	if c.UserEmail != "" {
		refs = append(refs, EntityRef{Type: EntityTypeEmail, Value: c.UserEmail})
	}
	if c.UserIP != "" {
		refs = append(refs, EntityRef{Type: EntityTypeIP, Value: c.UserIP})
	}
	if c.WalletAddress != "" {
		refs = append(refs, EntityRef{Type: EntityTypeWallet, Value: c.WalletAddress})
	}
	if c.Withdrawal != nil && c.Withdrawal.BankAccount != "" {
		refs = append(refs, EntityRef{Type: EntityTypeBankAccount, Value: c.Withdrawal.BankAccount})
	}
	if c.PixTransfer != nil && c.PixTransfer.ReceiverDocument != "" {
		refs = append(refs, EntityRef{Type: EntityTypeDocument, Value: c.PixTransfer.ReceiverDocument})
	}

	return refs
}

// IsHighValue returns true if the transaction amount meets the threshold
func (c *TransactionContext) IsHighValue(threshold float64) bool {
	return c.Amount >= threshold
}

// HistoricalTransaction is one row from the transaction-history source,
// used for velocity and behavioral lookups
type HistoricalTransaction struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Type      TransactionType `json:"type" db:"tx_type"`
	Amount    float64         `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	Timestamp time.Time       `json:"timestamp" db:"created_at"`
}
