package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/utxotab/facilitator/internal/chain"
	"github.com/utxotab/facilitator/internal/facilitator"
	"github.com/utxotab/facilitator/internal/ledger"
	"github.com/utxotab/facilitator/internal/network"
	"github.com/utxotab/facilitator/internal/storage"
	"github.com/utxotab/facilitator/pkg/bch"
	"github.com/utxotab/facilitator/pkg/crypto"
)

type chainStub struct {
	check ledger.UTXOCheck
}

func (c *chainStub) ValidateUTXO(_ context.Context, _ string, _ uint32) (ledger.UTXOCheck, error) {
	return c.check, nil
}

type walletStub struct{}

func (walletStub) Ensure() error { return nil }

func (walletStub) Balance(_ context.Context) (ledger.Satoshis, error) { return 1_000_000, nil }

func (walletStub) Send(_ context.Context, _ []chain.Output) (string, error) {
	return "settled-tx", nil
}

type testAPI struct {
	base  string
	key   *secp256k1.PrivateKey
	payer string
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payer, err := bch.EncodeP2PKH(bch.MainnetPrefix, crypto.Hash160(key.PubKey().SerializeCompressed()))
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}

	store := ledger.NewStore(storage.NewMemory())
	engine := ledger.NewEngine(store, &chainStub{check: ledger.UTXOCheck{
		Valid: true, AmountSat: 2000, ReceiverAddress: "server",
	}}, "server")
	fac := facilitator.New(store, engine, crypto.MessageVerifier{}, walletStub{})

	srv := New("127.0.0.1:0", fac, []string{"*"})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testAPI{base: "http://" + srv.Addr(), key: key, payer: payer}
}

func (a *testAPI) paymentBody(t *testing.T, txid string, value, cost ledger.Satoshis) []byte {
	t.Helper()
	v := uint32(0)
	auth := facilitator.Authorization{
		From: a.payer, To: "server", Value: value, TxID: txid, Vout: &v,
	}
	if txid == facilitator.TxIDAny {
		auth.Vout = nil
	}
	msg, err := auth.SigningMessage()
	if err != nil {
		t.Fatalf("signing message: %v", err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"x402Version": 2,
		"paymentPayload": facilitator.PaymentPayload{
			Accepted: &facilitator.Accepted{Scheme: facilitator.SchemeUTXO, Network: network.CanonicalNet},
			Payload: &facilitator.ExactPayload{
				Signature:     crypto.SignMessage(a.key, msg),
				Authorization: &auth,
			},
		},
		"paymentRequirements": facilitator.PaymentRequirements{
			Scheme:            facilitator.SchemeUTXO,
			Network:           network.CanonicalNet,
			PayTo:             "server",
			MinAmountRequired: &cost,
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func postJSON(t *testing.T, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestSupportedEndpoint(t *testing.T) {
	a := setupAPI(t)

	resp, err := http.Get(a.base + "/supported")
	if err != nil {
		t.Fatalf("GET /supported: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got facilitator.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Kinds) != 1 || got.Kinds[0].Scheme != facilitator.SchemeUTXO {
		t.Errorf("kinds = %+v", got.Kinds)
	}
	if got.Kinds[0].Network != network.CanonicalNet {
		t.Errorf("network = %q", got.Kinds[0].Network)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	a := setupAPI(t)

	resp, data := postJSON(t, a.base+"/verify", a.paymentBody(t, "tx1", 1000, 1000))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, data)
	}

	var res facilitator.VerifyResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("verify invalid: %s", res.InvalidReason)
	}
	if res.Payer != a.payer {
		t.Errorf("payer = %q, want %q", res.Payer, a.payer)
	}
	if res.RemainingBalanceSat == nil || *res.RemainingBalanceSat != 1000 {
		t.Errorf("remaining = %v, want 1000", res.RemainingBalanceSat)
	}
}

func TestVerifyEndpoint_InvalidOutcomeIsHTTP200(t *testing.T) {
	a := setupAPI(t)

	body := a.paymentBody(t, "tx1", 1000, 1000)
	// Tamper so the signature fails; the business outcome still rides a 200.
	body = bytes.Replace(body, []byte(`"value":"1000"`), []byte(`"value":"1001"`), 1)

	resp, data := postJSON(t, a.base+"/verify", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var res facilitator.VerifyResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.IsValid || res.InvalidReason != "invalid_exact_bch_payload_signature" {
		t.Errorf("result = %+v", res)
	}
}

func TestVerifyEndpoint_BadJSON(t *testing.T) {
	a := setupAPI(t)

	resp, data := postJSON(t, a.base+"/verify", []byte("{not json"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var res facilitator.VerifyResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.InvalidReason != facilitator.ReasonInvalidPayment {
		t.Errorf("reason = %q, want invalid_payment", res.InvalidReason)
	}
}

func TestSettleEndpoint(t *testing.T) {
	a := setupAPI(t)

	resp, data := postJSON(t, a.base+"/settle", a.paymentBody(t, "tx1", 1000, 1000))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, data)
	}

	var res facilitator.SettleResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success {
		t.Fatalf("settle failed: %s", res.ErrorReason)
	}
	if res.Transaction != "settled-tx" {
		t.Errorf("transaction = %q", res.Transaction)
	}
	if res.Network != network.CanonicalNet {
		t.Errorf("network = %q", res.Network)
	}
}

func TestSettleEndpoint_BadJSON(t *testing.T) {
	a := setupAPI(t)

	resp, data := postJSON(t, a.base+"/settle", []byte("nope"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var res facilitator.SettleResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || res.ErrorReason != facilitator.ReasonInvalidPayment {
		t.Errorf("result = %+v", res)
	}
}

func TestHealthz(t *testing.T) {
	a := setupAPI(t)

	resp, err := http.Get(a.base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := setupAPI(t)

	postJSON(t, a.base+"/verify", a.paymentBody(t, "tx1", 1000, 1000))

	resp, err := http.Get(a.base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "facilitator_requests_total") {
		t.Error("metrics output lacks facilitator_requests_total")
	}
}

func TestVerifyEndpoint_MethodNotAllowed(t *testing.T) {
	a := setupAPI(t)

	resp, err := http.Get(a.base + "/verify")
	if err != nil {
		t.Fatalf("GET /verify: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	a := setupAPI(t)

	req, _ := http.NewRequest(http.MethodOptions, a.base+"/verify", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /verify: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
