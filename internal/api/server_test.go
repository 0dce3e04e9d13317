package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Provenance/internal/account"
	"Provenance/internal/address"
	"Provenance/internal/chain"
	"Provenance/internal/ledger"
	"Provenance/internal/txn"
)

var testProgram = address.Address{0xc0}

// newTestServer runs a real chain behind the route table.
func newTestServer(t *testing.T, opts ...chain.Option) (*httptest.Server, *chain.Chain) {
	t.Helper()

	c, err := chain.New(ledger.NewProgram(ledger.New()), testProgram, opts...)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	t.Cleanup(c.Close)

	srv := httptest.NewServer(New(":0", c, c, c.Ledger()).Handler())
	t.Cleanup(srv.Close)

	return srv, c
}

func buildTestTx(t *testing.T, acct *account.Account, seq uint64, fn string, args []byte) *txn.Tx {
	t.Helper()

	tx, err := txn.Sign(&txn.Call{
		Sender:    acct.Address,
		PublicKey: acct.PublicKey,
		Sequence:  seq,
		Program:   testProgram,
		Function:  fn,
		Args:      args,
	}, acct)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	return tx
}

func postTx(t *testing.T, srv *httptest.Server, body []byte) (*http.Response, map[string]string) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/tx", "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /tx: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)

	return resp, out
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}

	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var resp map[string]string
	if code := getJSON(t, srv.URL+"/health", &resp); code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestSubmitTx_Success(t *testing.T) {
	srv, c := newTestServer(t)
	acct, _ := account.Generate()

	tx := buildTestTx(t, acct, 0, ledger.FnCreate, ledger.EncodeCreateArgs("QmHash", nil))

	resp, body := postTx(t, srv, txn.Encode(tx))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %v", resp.StatusCode, body)
	}

	if body["hash"] != tx.Hash.String() {
		t.Errorf("hash = %q, want %q", body["hash"], tx.Hash)
	}

	var receipt txn.Receipt
	if code := getJSON(t, srv.URL+"/tx/"+tx.Hash.String()+"/wait?timeout=2s", &receipt); code != http.StatusOK {
		t.Fatalf("wait status = %d", code)
	}

	if !receipt.Confirmed || !receipt.Success || receipt.RecordID != 1 {
		t.Errorf("receipt = %+v", receipt)
	}

	if len(receipt.Events) != 1 || receipt.Events[0].Owner != acct.Address {
		t.Errorf("events = %+v", receipt.Events)
	}

	if c.Ledger().Count() != 1 {
		t.Error("record not created")
	}

	if code := getJSON(t, srv.URL+"/tx/"+tx.Hash.String(), &receipt); code != http.StatusOK {
		t.Errorf("receipt status = %d", code)
	}
}

func TestSubmitTx_Rejections(t *testing.T) {
	srv, _ := newTestServer(t)
	acct, _ := account.Generate()

	tests := []struct {
		name string
		body []byte
		want int
	}{
		{name: "empty", body: nil, want: http.StatusBadRequest},
		{name: "garbage", body: []byte("not a transaction at all"), want: http.StatusBadRequest},
		{name: "future sequence", body: txn.Encode(buildTestTx(t, acct, 3, ledger.FnCount, nil)), want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postTx(t, srv, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}

			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestReceiptPendingAndUnknown(t *testing.T) {
	srv, c := newTestServer(t, chain.WithBlockInterval(time.Hour))
	acct, _ := account.Generate()

	tx := buildTestTx(t, acct, 0, ledger.FnCount, nil)
	if err := c.SubmitTx(tx); err != nil {
		t.Fatalf("SubmitTx: %v", err)
	}

	if code := getJSON(t, srv.URL+"/tx/"+tx.Hash.String(), nil); code != http.StatusNotFound {
		t.Errorf("pending status = %d, want 404", code)
	}

	if code := getJSON(t, srv.URL+"/tx/"+tx.Hash.String()+"/wait?timeout=20ms", nil); code != http.StatusGatewayTimeout {
		t.Errorf("wait status = %d, want 504", code)
	}

	unknown := txn.Hash{0x01}
	if code := getJSON(t, srv.URL+"/tx/"+unknown.String(), nil); code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", code)
	}

	if code := getJSON(t, srv.URL+"/tx/zz", nil); code != http.StatusBadRequest {
		t.Errorf("bad hash status = %d, want 400", code)
	}

	if code := getJSON(t, srv.URL+"/tx/"+tx.Hash.String()+"/wait?timeout=soon", nil); code != http.StatusBadRequest {
		t.Errorf("bad timeout status = %d, want 400", code)
	}
}

func TestViewEndpoint(t *testing.T) {
	srv, c := newTestServer(t)
	owner := address.Address{0x07}

	if _, err := c.Ledger().Create(owner, "h"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	post := func(fn string, args []byte) (int, map[string]string) {
		resp, err := http.Post(srv.URL+"/view/"+fn, "application/octet-stream", bytes.NewReader(args))
		if err != nil {
			t.Fatalf("POST /view: %v", err)
		}
		defer resp.Body.Close()

		var out map[string]string
		json.NewDecoder(resp.Body).Decode(&out)

		return resp.StatusCode, out
	}

	code, body := post(ledger.FnVerifyOwnership, ledger.EncodeIDAddressArgs(1, owner))
	if code != http.StatusOK {
		t.Fatalf("status = %d: %v", code, body)
	}

	raw, _ := hex.DecodeString(body["result"])
	if ok, err := ledger.DecodeBool(raw); err != nil || !ok {
		t.Errorf("verifyOwnership = %v, %v", ok, err)
	}

	code, body = post(ledger.FnGet, ledger.EncodeIDArgs(9))
	if code != http.StatusNotFound || body["vmStatus"] != "abort: ENOT_FOUND" {
		t.Errorf("missing get = %d %v", code, body)
	}

	code, _ = post(ledger.FnCreate, ledger.EncodeCreateArgs("h", nil))
	if code != http.StatusBadRequest {
		t.Errorf("mutating view status = %d, want 400", code)
	}
}

func TestAccountEventsStatusSnapshot(t *testing.T) {
	srv, c := newTestServer(t)
	acct, _ := account.Generate()

	tx := buildTestTx(t, acct, 0, ledger.FnCreate, ledger.EncodeCreateArgs("h", nil))
	if _, body := postTx(t, srv, txn.Encode(tx)); body["hash"] == "" {
		t.Fatalf("submit failed: %v", body)
	}

	if code := getJSON(t, srv.URL+"/tx/"+tx.Hash.String()+"/wait", nil); code != http.StatusOK {
		t.Fatalf("wait status = %d", code)
	}

	var acctResp struct {
		Sequence uint64 `json:"sequence"`
	}
	getJSON(t, srv.URL+"/accounts/"+acct.Address.String(), &acctResp)
	if acctResp.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", acctResp.Sequence)
	}

	if code := getJSON(t, srv.URL+"/accounts/xyz", nil); code != http.StatusBadRequest {
		t.Errorf("bad address status = %d", code)
	}

	var events []ledger.Event
	getJSON(t, srv.URL+"/events?from=1", &events)
	if len(events) != 1 || events[0].Kind != ledger.RecordStored {
		t.Errorf("events = %+v", events)
	}

	var status map[string]any
	getJSON(t, srv.URL+"/status", &status)
	if status["program"] != testProgram.String() || status["version"] != float64(1) || status["records"] != float64(1) {
		t.Errorf("status = %v", status)
	}

	resp, err := http.Get(srv.URL + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)

	restored := ledger.New()
	if err := restored.Restore(buf.Bytes()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if !restored.VerifyOwnership(1, acct.Address) || c.Ledger().Count() != restored.Count() {
		t.Error("snapshot does not match ledger")
	}
}
