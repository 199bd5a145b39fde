package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTripPerKind(t *testing.T) {
	t.Parallel()

	records := []Record{
		&Account{ID: "a1", UserID: "u1", Name: "Checking", Type: "checking", Archived: true},
		&Envelope{ID: "e1", UserID: "u1", Name: "Groceries", Icon: "cart"},
		&MonthlyAllocation{
			ID: "m1", UserID: "u1", EnvelopeID: "e1",
			Month:   time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			Balance: 42.5, Allocated: 50, Spent: 7.5, FundingAccountID: "a1",
		},
		&Transaction{
			ID: "t1", UserID: "u1", AccountID: "a1", EnvelopeID: "e1",
			Amount: -12.5, OccurredAt: time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC),
		},
		&Category{ID: "c1", UserID: "u1", Name: "Essentials"},
		&ThirdParty{ID: "p1", UserID: "u1", Name: "Grocer"},
		&Loan{
			ID: "l1", UserID: "u1", Name: "Car", Principal: 9000, Rate: 3.2,
			StartAt: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, rec := range records {
		kind := rec.EntityKind()

		data, err := Marshal(rec)
		require.NoError(t, err, kind.String())

		got, err := Unmarshal(kind, data)
		require.NoError(t, err, kind.String())
		assert.Equal(t, rec, got, kind.String())
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal(KindEnvelope, []byte(`{"id":`))
	assert.Error(t, err)

	_, err = Unmarshal(Kind(99), []byte(`{}`))
	assert.Error(t, err)
}

func TestKind_StringParseRoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("gadget")
	assert.Error(t, err)
}

func TestKind_CollectionRouting(t *testing.T) {
	t.Parallel()

	want := map[Kind]string{
		KindAccount:     "accounts",
		KindEnvelope:    "envelopes",
		KindAllocation:  "monthly_allocations",
		KindTransaction: "transactions",
		KindCategory:    "categories",
		KindThirdParty:  "third_parties",
		KindLoan:        "loans",
	}

	for _, k := range Kinds() {
		assert.Equal(t, want[k], k.Collection())
	}
}

func TestKind_CacheableExcludesMonetaryKinds(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindAllocation, KindTransaction, KindLoan} {
		assert.False(t, k.Cacheable(), k.String())
	}

	for _, k := range []Kind{KindAccount, KindEnvelope, KindCategory, KindThirdParty} {
		assert.True(t, k.Cacheable(), k.String())
	}
}
