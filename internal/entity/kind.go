// Package entity defines the closed set of record kinds the sync engine
// knows about, the record types themselves, and the JSON codec used for
// sync job payloads. Every dispatch on Kind is an exhaustive switch so a
// new kind cannot be added without extending routing and (de)serialization.
package entity

import "fmt"

// Kind identifies one of the known entity types.
type Kind int

const (
	KindAccount Kind = iota
	KindEnvelope
	KindAllocation
	KindTransaction
	KindCategory
	KindThirdParty
	KindLoan
)

// String returns the stable database/wire name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindEnvelope:
		return "envelope"
	case KindAllocation:
		return "allocation"
	case KindTransaction:
		return "transaction"
	case KindCategory:
		return "category"
	case KindThirdParty:
		return "third_party"
	case KindLoan:
		return "loan"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a database TEXT value back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case KindAccount.String():
		return KindAccount, nil
	case KindEnvelope.String():
		return KindEnvelope, nil
	case KindAllocation.String():
		return KindAllocation, nil
	case KindTransaction.String():
		return KindTransaction, nil
	case KindCategory.String():
		return KindCategory, nil
	case KindThirdParty.String():
		return KindThirdParty, nil
	case KindLoan.String():
		return KindLoan, nil
	default:
		return KindAccount, fmt.Errorf("entity: unknown kind %q", s)
	}
}

// Collection returns the remote collection name for the kind. This is the
// routing table used by the remote client; there is exactly one collection
// per kind.
func (k Kind) Collection() string {
	switch k {
	case KindAccount:
		return "accounts"
	case KindEnvelope:
		return "envelopes"
	case KindAllocation:
		return "monthly_allocations"
	case KindTransaction:
		return "transactions"
	case KindCategory:
		return "categories"
	case KindThirdParty:
		return "third_parties"
	case KindLoan:
		return "loans"
	default:
		return ""
	}
}

// Cacheable reports whether records of this kind are static reference data
// that may pass the cache guard. Kinds carrying monetary magnitudes are
// never cacheable.
func (k Kind) Cacheable() bool {
	switch k {
	case KindAccount, KindEnvelope, KindCategory, KindThirdParty:
		return true
	case KindAllocation, KindTransaction, KindLoan:
		return false
	default:
		return false
	}
}

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindAccount, KindEnvelope, KindAllocation, KindTransaction,
		KindCategory, KindThirdParty, KindLoan,
	}
}
