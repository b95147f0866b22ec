// Package catalog lists metered API offerings from the IAO token subgraph.
// The catalog is read-only and informational: a listed fee is a display hint, and the
// resource server's 402 challenge stays the authority on price.
package catalog

import (
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/iaomarket/x402-go"
	x402http "github.com/iaomarket/x402-go/http"
	"github.com/shopspring/decimal"
)

// TrendingThreshold is the usage count above which an entry is considered trending.
const TrendingThreshold = 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("atomic", func(fl validator.FieldLevel) bool {
		return x402.IsUintString(fl.Field().String())
	})
	return v
}

// Entry is one API offering. ID is the IAO token address, which also receives payments.
type Entry struct {
	ID                      string `json:"id" validate:"required,eth_addr"`
	APIURL                  string `json:"apiUrl" validate:"required,url"`
	Builder                 string `json:"builder" validate:"required,eth_addr"`
	Name                    string `json:"name"`
	Symbol                  string `json:"symbol"`
	SubscriptionFee         string `json:"subscriptionFee" validate:"required,atomic"`
	SubscriptionTokenAmount string `json:"subscriptionTokenAmount" validate:"omitempty,atomic"`
	PaymentToken            string `json:"paymentToken" validate:"omitempty,eth_addr"`
	SubscriptionCount       string `json:"subscriptionCount,omitempty" validate:"omitempty,atomic"`

	gateway string
}

// Validate checks the entry's addresses and amounts.
func (e Entry) Validate() error {
	return validate.Struct(e)
}

// Fee returns the subscription fee in atomic units of the payment token.
func (e Entry) Fee() (*big.Int, error) {
	fee, ok := new(big.Int).SetString(e.SubscriptionFee, 10)
	if !ok || fee.Sign() < 0 {
		return nil, x402.ErrInvalidAmount
	}
	return fee, nil
}

// DisplayFee formats the fee as dollars with two decimal places, e.g. "$0.01".
func (e Entry) DisplayFee(decimals int) string {
	fee, err := e.Fee()
	if err != nil {
		return "$0.00"
	}
	return "$" + decimal.NewFromBigInt(fee, -int32(decimals)).StringFixed(2)
}

// UsageCount returns the number of paid calls recorded for the entry.
func (e Entry) UsageCount() int64 {
	n, err := strconv.ParseInt(e.SubscriptionCount, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Trending reports whether the entry's usage exceeds TrendingThreshold.
func (e Entry) Trending() bool {
	return e.UsageCount() > TrendingThreshold
}

// Endpoint returns the URL a paid call is sent to: the gateway proxy route for the token
// when a gateway is configured, otherwise the builder's API URL.
func (e Entry) Endpoint() string {
	if e.gateway == "" {
		return e.APIURL
	}
	return strings.TrimSuffix(e.gateway, "/") + "/api/" + e.ID
}

// Request builds a pay-per-call request for the entry. The catalog fee, receiver and token
// are only used when the server's challenge omits them.
func (e Entry) Request(query url.Values) x402http.Request {
	return x402http.Request{
		Method:   "GET",
		URL:      e.Endpoint(),
		Query:    query,
		Amount:   e.SubscriptionFee,
		Receiver: e.ID,
		Asset:    e.PaymentToken,
	}
}
