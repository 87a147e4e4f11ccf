// Package order holds the order model and its in-memory store.
package order

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/poshub/orders-api/internal/errors"
)

func init() {
	// Amounts are rendered as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// MaxCustomerNameLength bounds nom_client.
const MaxCustomerNameLength = 128

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

var (
	// ErrNotFound is wrapped by Get for unknown ids.
	ErrNotFound = stderrors.New("order not found")
	// ErrAlreadyExists is reserved for duplicate detection; no store currently returns it.
	ErrAlreadyExists = stderrors.New("order already exists")
)

// Order is an accepted, immutable order.
type Order struct {
	ID           uuid.UUID       `json:"order"`
	CreatedAt    time.Time       `json:"created_at"`
	CustomerName string          `json:"nom_client"`
	Amount       decimal.Decimal `json:"montant"`
	Currency     string          `json:"devise"`
	CreatedBy    string          `json:"created_by,omitempty"`
}

// Input is the client-supplied part of an order.
type Input struct {
	CustomerName *string          `json:"nom_client"`
	Amount       *decimal.Decimal `json:"montant"`
	Currency     *string          `json:"devise"`

	// CreatedBy is filled from the authenticated caller, never from the body.
	CreatedBy string `json:"-"`

	amountNotNumber bool
}

// UnmarshalJSON decodes an input body. montant must be a JSON number; a quoted
// amount is kept out of Amount and reported by Validate.
func (in *Input) UnmarshalJSON(data []byte) error {
	var body struct {
		CustomerName *string         `json:"nom_client"`
		Amount       json.RawMessage `json:"montant"`
		Currency     *string         `json:"devise"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	*in = Input{CustomerName: body.CustomerName, Currency: body.Currency}

	amount := gjson.ParseBytes(body.Amount)
	switch {
	case len(body.Amount) == 0 || amount.Type == gjson.Null:
	case amount.Type == gjson.Number:
		d, err := decimal.NewFromString(amount.Raw)
		if err != nil {
			in.amountNotNumber = true
			break
		}
		in.Amount = &d
	default:
		in.amountNotNumber = true
	}
	return nil
}

// Validate checks the input and returns a validation error naming the first bad field.
func (in Input) Validate() error {
	switch {
	case in.CustomerName == nil:
		return errors.Validation("nom_client", "Field required")
	case strings.TrimSpace(*in.CustomerName) == "":
		return errors.Validation("nom_client", "Customer name must not be empty")
	case utf8.RuneCountInString(*in.CustomerName) > MaxCustomerNameLength:
		return errors.Validation("nom_client", "Customer name must be at most 128 characters")
	case in.amountNotNumber:
		return errors.Validation("montant", "Input should be a valid number")
	case in.Amount == nil:
		return errors.Validation("montant", "Field required")
	case in.Amount.IsNegative():
		return errors.Validation("montant", "Amount must be greater than or equal to 0")
	case in.Currency == nil:
		return errors.Validation("devise", "Field required")
	case !currencyPattern.MatchString(*in.Currency):
		return errors.Validation("devise", "Currency must match ^[A-Z]{3}$")
	}
	return nil
}

// Store is the order repository used by the HTTP layer.
type Store interface {
	Create(ctx context.Context, in Input) (Order, error)
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	Count() int
}
