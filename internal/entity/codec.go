package entity

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes a record to the JSON snapshot stored in sync job
// payloads and sent to the remote collection endpoints.
func Marshal(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("entity: marshaling %s %s: %w", r.EntityKind(), r.EntityID(), err)
	}

	return b, nil
}

// Unmarshal decodes a JSON snapshot back into the concrete record type for
// the given kind. The switch is exhaustive over all known kinds.
func Unmarshal(k Kind, data []byte) (Record, error) {
	var r Record

	switch k {
	case KindAccount:
		r = &Account{}
	case KindEnvelope:
		r = &Envelope{}
	case KindAllocation:
		r = &MonthlyAllocation{}
	case KindTransaction:
		r = &Transaction{}
	case KindCategory:
		r = &Category{}
	case KindThirdParty:
		r = &ThirdParty{}
	case KindLoan:
		r = &Loan{}
	default:
		return nil, fmt.Errorf("entity: unmarshal: unknown kind %q", k)
	}

	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("entity: unmarshaling %s: %w", k, err)
	}

	return r, nil
}
