package order

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poshub/orders-api/internal/errors"
)

func strPtr(s string) *string { return &s }

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func validInput() Input {
	return Input{
		CustomerName: strPtr("John Doe"),
		Amount:       amount("99.99"),
		Currency:     strPtr("EUR"),
	}
}

func TestMemoryStore_CreateThenGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	in := validInput()
	in.CreatedBy = "alice"
	created, err := store.Create(ctx, in)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, uuid.Version(4), created.ID.Version())
	assert.Equal(t, time.UTC, created.CreatedAt.Location())
	assert.Equal(t, "alice", created.CreatedBy)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, 1, store.Count())
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()
	id := uuid.New()

	_, err := store.Get(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), id.String())

	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, 404, se.HTTPStatus)
}

func TestMemoryStore_DeterministicClockAndIDs(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("123e4567-e89b-42d3-a456-426614174000")
	store.now = func() time.Time { return fixed }
	store.newID = func() uuid.UUID { return id }

	o, err := store.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, id, o.ID)
	assert.Equal(t, fixed, o.CreatedAt)
}

func TestMemoryStore_RejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore()

	in := validInput()
	in.Currency = strPtr("eur")
	_, err := store.Create(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestMemoryStore_ConcurrentCreates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 100
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := store.Create(ctx, validInput())
			if assert.NoError(t, err) {
				ids <- o.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
		_, err := store.Get(ctx, id)
		assert.NoError(t, err)
	}
	assert.Equal(t, n, store.Count())
}

func TestInput_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Input)
		wantField string
	}{
		{"valid", func(*Input) {}, ""},
		{"zero amount", func(in *Input) { in.Amount = amount("0") }, ""},
		{"missing name", func(in *Input) { in.CustomerName = nil }, "nom_client"},
		{"blank name", func(in *Input) { in.CustomerName = strPtr("  ") }, "nom_client"},
		{"name too long", func(in *Input) { in.CustomerName = strPtr(strings.Repeat("x", 129)) }, "nom_client"},
		{"name at limit", func(in *Input) { in.CustomerName = strPtr(strings.Repeat("é", 128)) }, ""},
		{"missing amount", func(in *Input) { in.Amount = nil }, "montant"},
		{"negative amount", func(in *Input) { in.Amount = amount("-0.01") }, "montant"},
		{"missing currency", func(in *Input) { in.Currency = nil }, "devise"},
		{"lowercase currency", func(in *Input) { in.Currency = strPtr("usd") }, "devise"},
		{"long currency", func(in *Input) { in.Currency = strPtr("EURO") }, "devise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := in.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			se := errors.GetServiceError(err)
			require.NotNil(t, se)
			assert.Equal(t, 422, se.HTTPStatus)
			assert.Equal(t, tt.wantField, se.Field)
		})
	}
}

func TestOrder_JSON(t *testing.T) {
	o := Order{
		ID:           uuid.MustParse("123e4567-e89b-42d3-a456-426614174000"),
		CreatedAt:    time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
		CustomerName: "John Doe",
		Amount:       decimal.RequireFromString("99.99"),
		Currency:     "EUR",
	}

	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"order": "123e4567-e89b-42d3-a456-426614174000",
		"created_at": "2024-03-20T10:00:00Z",
		"nom_client": "John Doe",
		"montant": 99.99,
		"devise": "EUR"
	}`, string(data))
}

func TestInput_DecodesNumericAmount(t *testing.T) {
	var in Input
	require.NoError(t, json.Unmarshal([]byte(`{"nom_client":"A","montant":12.5,"devise":"USD"}`), &in))
	require.NoError(t, in.Validate())
	assert.True(t, in.Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestInput_RejectsNonNumericAmount(t *testing.T) {
	bodies := []string{
		`{"nom_client":"A","montant":"12.50","devise":"USD"}`,
		`{"nom_client":"A","montant":true,"devise":"USD"}`,
		`{"nom_client":"A","montant":{"value":1},"devise":"USD"}`,
	}

	for _, body := range bodies {
		var in Input
		require.NoError(t, json.Unmarshal([]byte(body), &in), body)
		assert.Nil(t, in.Amount, body)

		se := errors.GetServiceError(in.Validate())
		require.NotNil(t, se, body)
		assert.Equal(t, 422, se.HTTPStatus)
		assert.Equal(t, "montant", se.Field)
	}
}

func TestInput_DecodesExponentAndNullAmount(t *testing.T) {
	var in Input
	require.NoError(t, json.Unmarshal([]byte(`{"nom_client":"A","montant":1.25e2,"devise":"USD"}`), &in))
	require.NoError(t, in.Validate())
	assert.True(t, in.Amount.Equal(decimal.RequireFromString("125")))

	in = Input{}
	require.NoError(t, json.Unmarshal([]byte(`{"nom_client":"A","montant":null,"devise":"USD"}`), &in))
	se := errors.GetServiceError(in.Validate())
	require.NotNil(t, se)
	assert.Equal(t, "montant", se.Field)
	assert.Equal(t, "Field required", se.Message)
}
