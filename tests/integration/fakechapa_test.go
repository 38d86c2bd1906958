package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/shopspring/decimal"
)

// testWebhookSecret signs webhook deliveries the same way the provider would;
// the gateway is configured with it in newTestApp.
const testWebhookSecret = "whsec-integration-test"

var fakeChargeRate = decimal.RequireFromString("0.025")

// fakeChapa is a stand-in for the Chapa API: an HTTP server speaking the
// provider's envelope protocol with a per-reference payment ledger behind it.
// Payments start pending after initialize; tests flip them to a terminal
// status to simulate the customer finishing (or abandoning) hosted checkout.
type fakeChapa struct {
	mu       sync.Mutex
	server   *httptest.Server
	payments map[string]*fakePayment

	// initializeRejection, when set, makes initialize answer with a failed
	// envelope carrying this message.
	initializeRejection string
}

type fakePayment struct {
	Amount   decimal.Decimal
	Currency string
	Email    string
	Status   string
	Refunded bool
}

func newFakeChapa() *fakeChapa {
	f := &fakeChapa{payments: make(map[string]*fakePayment)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transaction/initialize", f.handleInitialize)
	mux.HandleFunc("GET /transaction/verify/{reference}", f.handleVerify)
	mux.HandleFunc("POST /refund/{reference}", f.handleRefund)
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeChapa) URL() string { return f.server.URL }

func (f *fakeChapa) Close() { f.server.Close() }

// completePayment simulates the customer finishing hosted checkout.
func (f *fakeChapa) completePayment(reference string) {
	f.setStatus(reference, "success")
}

// failPayment simulates a declined or abandoned checkout.
func (f *fakeChapa) failPayment(reference string) {
	f.setStatus(reference, "failed")
}

func (f *fakeChapa) setStatus(reference, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[reference]; ok {
		p.Status = status
	}
}

// rejectInitialize makes subsequent initialize calls fail with the given
// provider message. An empty message restores normal behaviour.
func (f *fakeChapa) rejectInitialize(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initializeRejection = message
}

// payment returns a snapshot of the provider-side record for a reference.
func (f *fakeChapa) payment(reference string) (fakePayment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[reference]
	if !ok {
		return fakePayment{}, false
	}
	return *p, true
}

func (f *fakeChapa) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
		Email    string `json:"email"`
		TxRef    string `json:"tx_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "failed", "Invalid request body", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || req.TxRef == "" {
		writeEnvelope(w, http.StatusBadRequest, "failed", "Invalid amount or tx_ref", nil)
		return
	}

	f.mu.Lock()
	if f.initializeRejection != "" {
		msg := f.initializeRejection
		f.mu.Unlock()
		writeEnvelope(w, http.StatusBadRequest, "failed", msg, nil)
		return
	}
	f.payments[req.TxRef] = &fakePayment{
		Amount:   amount,
		Currency: req.Currency,
		Email:    req.Email,
		Status:   "pending",
	}
	f.mu.Unlock()

	writeEnvelope(w, http.StatusOK, "success", "Hosted Link", map[string]string{
		"checkout_url": "https://checkout.chapa.test/pay/" + req.TxRef,
		"tx_ref":       req.TxRef,
	})
}

func (f *fakeChapa) handleVerify(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	f.mu.Lock()
	p, ok := f.payments[reference]
	if !ok {
		f.mu.Unlock()
		writeEnvelope(w, http.StatusNotFound, "failed", "Transaction not found", nil)
		return
	}
	snapshot := *p
	f.mu.Unlock()

	charge := decimal.Zero
	if snapshot.Status == "success" {
		charge = snapshot.Amount.Mul(fakeChargeRate).Round(2)
	}
	writeEnvelope(w, http.StatusOK, "success", "Payment details", map[string]any{
		"status":   snapshot.Status,
		"amount":   snapshot.Amount,
		"currency": snapshot.Currency,
		"charge":   charge,
		"tx_ref":   reference,
	})
}

func (f *fakeChapa) handleRefund(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	f.mu.Lock()
	p, ok := f.payments[reference]
	if !ok {
		f.mu.Unlock()
		writeEnvelope(w, http.StatusNotFound, "failed", "Transaction not found", nil)
		return
	}
	if p.Status != "success" {
		f.mu.Unlock()
		writeEnvelope(w, http.StatusBadRequest, "failed", "Transaction is not settled", nil)
		return
	}
	p.Refunded = true
	f.mu.Unlock()

	writeEnvelope(w, http.StatusOK, "success", "Refund queued", map[string]string{
		"ref_id": "FRD-" + reference,
	})
}

func writeEnvelope(w http.ResponseWriter, httpStatus int, status, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// chapaWebhook builds the JSON body of a provider settlement notification.
func chapaWebhook(reference, status string) []byte {
	body, _ := json.Marshal(map[string]string{
		"tx_ref": reference,
		"status": status,
		"event":  "charge." + status,
	})
	return body
}

// signPayload produces the HMAC-SHA256 hex signature the provider sends in
// the Chapa-Signature header.
func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
