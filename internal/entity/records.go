package entity

import "time"

// Record is implemented by every entity type. The local store is
// authoritative for reads; the remote copy is an eventually-consistent
// mirror fed by the sync queue.
type Record interface {
	EntityID() string
	SetEntityID(id string)
	EntityKind() Kind
}

// Account is a bank or cash account.
type Account struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Type     string `json:"type"` // checking, savings, cash
	Archived bool   `json:"archived"`
}

// Envelope is a budget bucket money is allocated into month by month.
type Envelope struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Archived bool   `json:"archived"`
}

// MonthlyAllocation is the budget state of one envelope for one calendar
// month. Month carries a full timestamp because stored values may drift in
// time-of-day; matching is always by decomposed year/month.
//
// Invariant (post-reconciliation): at most one record exists per
// (EnvelopeID, year, month).
type MonthlyAllocation struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	EnvelopeID       string    `json:"envelope_id"`
	Month            time.Time `json:"month"`
	Balance          float64   `json:"balance"`
	Allocated        float64   `json:"allocated"`
	Spent            float64   `json:"spent"`
	FundingAccountID string    `json:"funding_account_id,omitempty"`
}

// Transaction is a single money movement on an account, optionally tied to
// an envelope allocation and a third party.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AccountID    string    `json:"account_id"`
	EnvelopeID   string    `json:"envelope_id,omitempty"`
	AllocationID string    `json:"allocation_id,omitempty"`
	ThirdPartyID string    `json:"third_party_id,omitempty"`
	Amount       float64   `json:"amount"`
	OccurredAt   time.Time `json:"occurred_at"`
	Note         string    `json:"note,omitempty"`
}

// Category labels transactions for reporting.
type Category struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ThirdParty is a payee or payer.
type ThirdParty struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Loan tracks borrowed or lent money. Business-rule calculators (interest,
// payment plans) live outside this module; the engine only stores and syncs.
type Loan struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Principal float64   `json:"principal"`
	Rate      float64   `json:"rate"`
	StartAt   time.Time `json:"start_at"`
}

func (a *Account) EntityID() string                { return a.ID }
func (a *Account) SetEntityID(id string)           { a.ID = id }
func (a *Account) EntityKind() Kind                { return KindAccount }
func (e *Envelope) EntityID() string               { return e.ID }
func (e *Envelope) SetEntityID(id string)          { e.ID = id }
func (e *Envelope) EntityKind() Kind               { return KindEnvelope }
func (m *MonthlyAllocation) EntityID() string      { return m.ID }
func (m *MonthlyAllocation) SetEntityID(id string) { m.ID = id }
func (m *MonthlyAllocation) EntityKind() Kind      { return KindAllocation }
func (t *Transaction) EntityID() string            { return t.ID }
func (t *Transaction) SetEntityID(id string)       { t.ID = id }
func (t *Transaction) EntityKind() Kind            { return KindTransaction }
func (c *Category) EntityID() string               { return c.ID }
func (c *Category) SetEntityID(id string)          { c.ID = id }
func (c *Category) EntityKind() Kind               { return KindCategory }
func (p *ThirdParty) EntityID() string             { return p.ID }
func (p *ThirdParty) SetEntityID(id string)        { p.ID = id }
func (p *ThirdParty) EntityKind() Kind             { return KindThirdParty }
func (l *Loan) EntityID() string                   { return l.ID }
func (l *Loan) SetEntityID(id string)              { l.ID = id }
func (l *Loan) EntityKind() Kind                   { return KindLoan }
