package negotiation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/negotiation"
	"github.com/arcboost/stimulus-engine/internal/store"
)

var errTestChain = errors.New("chain unreachable")

func newTestRouter(st store.Store) *chi.Mux {
	m := negotiation.NewMachine(st, &stubConfirmer{}, nil, time.Second)
	svc := negotiation.NewService(m)

	r := chi.NewRouter()
	r.Post("/api/v1/deals", svc.CreateDeal)
	r.Post("/api/v1/deals/{dealID}/turns", svc.SubmitTurn)
	r.Post("/api/v1/deals/{dealID}/admit", svc.Admit)
	r.Post("/api/v1/deals/{dealID}/settle", svc.Settle)
	r.Post("/api/v1/deals/{dealID}/abort", svc.Abort)
	r.Post("/api/v1/deals/{dealID}/fail", svc.Fail)
	return r
}

func post(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestService_LifecycleOverHTTP(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestRouter(st)

	w := post(t, r, "/api/v1/deals", map[string]any{
		"buyer":      "0xbuyer",
		"seller":     "0xseller",
		"sku":        "bricks",
		"qty":        "10",
		"unit_price": "5",
		"vat_rate":   "0.07",
		"role":       "buyer",
		"proposal":   map[string]any{"offer": 50},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", w.Code, w.Body)
	}
	var deal model.Deal
	if err := json.Unmarshal(w.Body.Bytes(), &deal); err != nil {
		t.Fatal(err)
	}
	if deal.DealID == "" || deal.Status != model.StatusDraft {
		t.Fatalf("unexpected deal: %+v", deal)
	}
	if deal.Notional.String() != "50" {
		t.Errorf("notional = %s, want 50", deal.Notional)
	}

	w = post(t, r, "/api/v1/deals/"+deal.DealID+"/turns", map[string]any{
		"role":    "seller",
		"subtype": "counter",
		"payload": map[string]any{"offer": 55},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("turn: status %d, body %s", w.Code, w.Body)
	}
	var turn model.NegotiationTurn
	if err := json.Unmarshal(w.Body.Bytes(), &turn); err != nil {
		t.Fatal(err)
	}
	if turn.Turn != 2 {
		t.Errorf("counter turn numbered %d, want 2", turn.Turn)
	}

	w = post(t, r, "/api/v1/deals/"+deal.DealID+"/admit", map[string]any{"role": "judge"})
	if w.Code != http.StatusOK {
		t.Fatalf("admit: status %d, body %s", w.Code, w.Body)
	}

	w = post(t, r, "/api/v1/deals/"+deal.DealID+"/settle", map[string]any{
		"role":            "buyer",
		"commitment_json": map[string]any{"legs": []any{}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: status %d, body %s", w.Code, w.Body)
	}
	var receipt model.Receipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.TxID == "" {
		t.Error("settle response missing txid")
	}
}

func TestService_ErrorStatusCodes(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestRouter(st)

	// Missing buyer → 400.
	w := post(t, r, "/api/v1/deals", map[string]any{"seller": "0xseller"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid create: status %d, want 400", w.Code)
	}

	// Unknown deal → 404.
	w = post(t, r, "/api/v1/deals/nope/admit", map[string]any{"role": "judge"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown deal: status %d, want 404", w.Code)
	}

	// Settle from draft → 409.
	w = post(t, r, "/api/v1/deals", map[string]any{
		"buyer": "0xbuyer", "seller": "0xseller", "sku": "bricks",
		"qty": "10", "unit_price": "5",
	})
	var deal model.Deal
	if err := json.Unmarshal(w.Body.Bytes(), &deal); err != nil {
		t.Fatal(err)
	}
	w = post(t, r, "/api/v1/deals/"+deal.DealID+"/settle", map[string]any{
		"role": "buyer", "commitment_json": map[string]any{},
	})
	if w.Code != http.StatusConflict {
		t.Errorf("settle from draft: status %d, want 409", w.Code)
	}

	// Malformed body → 400.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deals", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d, want 400", rec.Code)
	}
}

func TestService_ConfirmationFailureIsBadGateway(t *testing.T) {
	st := store.NewMemoryStore()
	m := negotiation.NewMachine(st, &stubConfirmer{err: errTestChain}, nil, time.Second)
	svc := negotiation.NewService(m)
	r := chi.NewRouter()
	r.Post("/api/v1/deals", svc.CreateDeal)
	r.Post("/api/v1/deals/{dealID}/admit", svc.Admit)
	r.Post("/api/v1/deals/{dealID}/settle", svc.Settle)

	w := post(t, r, "/api/v1/deals", map[string]any{
		"buyer": "0xbuyer", "seller": "0xseller", "sku": "bricks",
		"qty": "10", "unit_price": "5",
	})
	var deal model.Deal
	if err := json.Unmarshal(w.Body.Bytes(), &deal); err != nil {
		t.Fatal(err)
	}
	if w := post(t, r, "/api/v1/deals/"+deal.DealID+"/admit", map[string]any{}); w.Code != http.StatusOK {
		t.Fatalf("admit: status %d", w.Code)
	}

	w = post(t, r, "/api/v1/deals/"+deal.DealID+"/settle", map[string]any{
		"commitment_json": map[string]any{},
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("failed confirmation: status %d, want 502", w.Code)
	}
}

func TestService_AbortAndFail(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestRouter(st)

	for _, tc := range []struct {
		action string
		want   model.DealStatus
	}{
		{"abort", model.StatusAborted},
		{"fail", model.StatusFailed},
	} {
		w := post(t, r, "/api/v1/deals", map[string]any{
			"buyer": "0xbuyer", "seller": "0xseller", "sku": "bricks",
			"qty": "1", "unit_price": "1",
		})
		var deal model.Deal
		if err := json.Unmarshal(w.Body.Bytes(), &deal); err != nil {
			t.Fatal(err)
		}

		w = post(t, r, "/api/v1/deals/"+deal.DealID+"/"+tc.action, map[string]any{"reason": "test"})
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d, body %s", tc.action, w.Code, w.Body)
		}
		got, _ := st.GetDeal(context.Background(), deal.DealID)
		if got.Status != tc.want {
			t.Errorf("%s: status = %s, want %s", tc.action, got.Status, tc.want)
		}
	}
}
