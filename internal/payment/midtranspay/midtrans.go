// Package midtranspay adapts Midtrans Snap (hosted checkout) and the Core
// API (status lookups) to payment.Provider. The merchant order id is the
// session id.
package midtranspay

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
)

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// Provider talks to Midtrans.
type Provider struct {
	snap            snapAPI
	core            coreAPI
	serverKey       string
	verifySignature bool
}

var _ payment.Provider = (*Provider)(nil)

// New builds a provider for serverKey. production selects the production
// environment instead of the sandbox.
func New(serverKey string, production, verifySignature bool) *Provider {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	var s snap.Client
	s.New(serverKey, env)
	var c coreapi.Client
	c.New(serverKey, env)
	return &Provider{snap: &s, core: &c, serverKey: serverKey, verifySignature: verifySignature}
}

func (p *Provider) Name() string { return "midtrans" }

func (p *Provider) CreateSession(ctx context.Context, req payment.CheckoutRequest) (payment.Session, error) {
	if err := ctx.Err(); err != nil {
		return payment.Session{}, fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}

	items := make([]midtrans.ItemDetails, 0, len(req.LineItems))
	for i, li := range req.LineItems {
		qty := int32(li.Quantity)
		if qty <= 0 {
			qty = 1
		}
		items = append(items, midtrans.ItemDetails{
			ID:    fmt.Sprintf("item-%d", i+1),
			Name:  truncate(li.Name, 50),
			Price: toMajor(li.AmountCents),
			Qty:   qty,
		})
	}

	sr := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: toMajor(req.Total()),
		},
		Items: &items,
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.CustomerEmail,
		},
		Callbacks:    &snap.Callbacks{Finish: req.SuccessURL},
		CustomField1: req.Metadata[payment.MetaType],
		CustomField2: req.Metadata[payment.MetaTicketID] + req.Metadata[payment.MetaAdID],
	}
	if !req.ExpiresAt.IsZero() {
		minutes := int64(time.Until(req.ExpiresAt).Truncate(time.Minute) / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		sr.Expiry = &snap.ExpiryDetails{Unit: "minute", Duration: minutes}
	}

	resp, mErr := p.snap.CreateTransaction(sr)
	if mErr != nil {
		return payment.Session{}, mapError(mErr)
	}
	return payment.Session{
		ID:       req.Reference,
		URL:      resp.RedirectURL,
		Status:   payment.StatusUnpaid,
		Metadata: req.Metadata,
	}, nil
}

func (p *Provider) GetSession(ctx context.Context, id string) (payment.Session, error) {
	if err := ctx.Err(); err != nil {
		return payment.Session{}, fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	res, mErr := p.core.CheckTransaction(id)
	if mErr != nil {
		return payment.Session{}, mapError(mErr)
	}
	if res.StatusCode == "404" {
		return payment.Session{}, fmt.Errorf("%w: %s", payment.ErrSessionNotFound, id)
	}
	md, _ := payment.ParseReference(id)
	return payment.Session{
		ID:       id,
		Status:   MapStatus(res.TransactionStatus, res.FraudStatus),
		Metadata: md,
	}, nil
}

// notification is the subset of the HTTP notification body we read.
type notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	CustomField1      string `json:"custom_field1"`
	CustomField2      string `json:"custom_field2"`
}

func (p *Provider) ParseWebhook(payload []byte, _ http.Header) (payment.Event, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return payment.Event{}, fmt.Errorf("%w: %v", payment.ErrMalformedEvent, err)
	}
	if n.OrderID == "" || n.TransactionStatus == "" {
		return payment.Event{}, fmt.Errorf("%w: order_id or transaction_status missing", payment.ErrMalformedEvent)
	}
	if p.verifySignature {
		want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, p.serverKey)
		if subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(n.SignatureKey))) != 1 {
			return payment.Event{}, payment.ErrInvalidSignature
		}
	}

	md, ok := payment.ParseReference(n.OrderID)
	if !ok {
		md = map[string]string{payment.MetaType: n.CustomField1}
		switch n.CustomField1 {
		case payment.TypeTicket:
			md[payment.MetaTicketID] = n.CustomField2
		case payment.TypeAd:
			md[payment.MetaAdID] = n.CustomField2
		}
	}
	status := MapStatus(n.TransactionStatus, n.FraudStatus)
	return payment.Event{
		ID:        n.TransactionID,
		Type:      n.TransactionStatus,
		Completed: status == payment.StatusPaid,
		Session: payment.Session{
			ID:       n.OrderID,
			Status:   status,
			Metadata: md,
		},
	}, nil
}

// MapStatus maps a Midtrans transaction status to a payment status.
func MapStatus(txStatus, fraudStatus string) payment.Status {
	switch strings.ToLower(txStatus) {
	case "capture":
		if strings.EqualFold(fraudStatus, "challenge") {
			return payment.StatusPending
		}
		return payment.StatusPaid
	case "settlement":
		return payment.StatusPaid
	case "pending", "authorize":
		return payment.StatusPending
	case "expire", "cancel", "deny", "failure", "refund", "partial_refund":
		return payment.StatusFailed
	default:
		return payment.StatusUnpaid
	}
}

// Signature computes the notification signature_key:
// SHA512(order_id + status_code + gross_amount + server_key), hex encoded.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func mapError(e *midtrans.Error) error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", payment.ErrSessionNotFound, e.Message)
	case e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return fmt.Errorf("%w: %s", payment.ErrUnavailable, e.Message)
	default:
		return fmt.Errorf("midtrans: %s (status %d)", e.Message, e.StatusCode)
	}
}

// toMajor converts cents to whole currency units, rounding up. Midtrans
// amounts have no minor unit.
func toMajor(cents int64) int64 {
	return (cents + 99) / 100
}

// truncate shortens s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
