package preset

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCatalog_AllPresetsValidate(t *testing.T) {
	presets := Catalog()
	if len(presets) == 0 {
		t.Fatal("catalog is empty")
	}
	for _, p := range presets {
		if p.Name == "" {
			t.Error("preset missing name")
		}
		if err := p.Params.Validate(); err != nil {
			t.Errorf("preset %q does not validate: %v", p.Name, err)
		}
	}
}

func TestHandleList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/sim/presets", nil)
	w := httptest.NewRecorder()
	HandleList(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var resp struct {
		Presets []Preset `json:"presets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Presets) != len(Catalog()) {
		t.Errorf("got %d presets, want %d", len(resp.Presets), len(Catalog()))
	}
}
