package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var testEOA = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-session-key",
		WithBaseURL(server.URL),
		WithPollInterval(5*time.Millisecond),
	)
}

func TestDeploySettles(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/deploy", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-session-key" {
			t.Errorf("Wrong auth header: %q", got)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["from"] != testEOA.Hex() {
			t.Errorf("Wrong from address: %s", req["from"])
		}
		if req["idempotencyKey"] == "" {
			t.Error("Missing idempotency key")
		}
		json.NewEncoder(w).Encode(submitResponse{TransactionID: "txn-1"})
	})
	mux.HandleFunc("/transaction/txn-1", func(w http.ResponseWriter, r *http.Request) {
		state := StateNew
		if polls.Add(1) >= 3 {
			state = StateConfirmed
		}
		json.NewEncoder(w).Encode(Settlement{
			TransactionID:   "txn-1",
			State:           state,
			TxHash:          "0xabc",
			DeployedAddress: common.HexToAddress("0x3000000000000000000000000000000000000003"),
		})
	})

	c := testClient(t, mux)
	settlement, err := c.Deploy(context.Background(), testEOA)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if settlement.State != StateConfirmed {
		t.Errorf("Wrong terminal state: %s", settlement.State)
	}
	if polls.Load() < 3 {
		t.Errorf("Expected polling until terminal, got %d polls", polls.Load())
	}
}

func TestDeployFailedTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/deploy", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{TransactionID: "txn-2"})
	})
	mux.HandleFunc("/transaction/txn-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Settlement{TransactionID: "txn-2", State: StateFailed})
	})

	c := testClient(t, mux)
	_, err := c.Deploy(context.Background(), testEOA)

	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("Expected TaskError, got %v", err)
	}
	if taskErr.TransactionID != "txn-2" {
		t.Errorf("Wrong transaction ID: %s", taskErr.TransactionID)
	}
}

func TestUnauthorized(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Deploy(context.Background(), testEOA)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}

	_, err = c.Execute(context.Background(), []Transaction{{Value: "0"}}, "approvals")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized from Execute, got %v", err)
	}
}

func TestExecuteSubmitsWholeBatch(t *testing.T) {
	txns := []Transaction{
		{To: common.HexToAddress("0x4000000000000000000000000000000000000004"), Data: "0x01", Value: "0"},
		{To: common.HexToAddress("0x5000000000000000000000000000000000000005"), Data: "0x02", Value: "0"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transactions []Transaction `json:"transactions"`
			Label        string        `json:"label"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Transactions) != 2 {
			t.Errorf("Expected 2 transactions in one batch, got %d", len(req.Transactions))
		}
		if req.Label != "approvals" {
			t.Errorf("Wrong label: %s", req.Label)
		}
		json.NewEncoder(w).Encode(submitResponse{TransactionID: "txn-3"})
	})
	mux.HandleFunc("/transaction/txn-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Settlement{TransactionID: "txn-3", State: StateMined})
	})

	c := testClient(t, mux)
	settlement, err := c.Execute(context.Background(), txns, "approvals")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !settlement.State.Succeeded() {
		t.Errorf("Wrong terminal state: %s", settlement.State)
	}
}

func TestExecuteEmptyBatch(t *testing.T) {
	c := NewClient("test-session-key")
	if _, err := c.Execute(context.Background(), nil, "empty"); err == nil {
		t.Error("Empty batch should be rejected")
	}
}

func TestAwaitSettlementContextCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/deploy", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{TransactionID: "txn-4"})
	})
	mux.HandleFunc("/transaction/txn-4", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Settlement{TransactionID: "txn-4", State: StateNew})
	})

	c := testClient(t, mux)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Deploy(ctx, testEOA)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestStateClassification(t *testing.T) {
	for _, s := range []State{StateMined, StateConfirmed} {
		if !s.Terminal() || !s.Succeeded() {
			t.Errorf("%s should be successful terminal", s)
		}
	}
	if !StateFailed.Terminal() || StateFailed.Succeeded() {
		t.Error("STATE_FAILED should be terminal and unsuccessful")
	}
	for _, s := range []State{StateNew, StateExecuted} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
