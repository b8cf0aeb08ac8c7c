package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/quantfoundry/modelgate/internal/canonical"
)

func TestSortedKeysAreDeterministic(t *testing.T) {
	a := map[string]interface{}{"fraction": 0.1, "enabled": true}
	b := map[string]interface{}{"enabled": true, "fraction": 0.1}

	ca, err := canonical.MarshalCanonical(a)
	if err != nil {
		t.Fatalf("MarshalCanonical(a): %v", err)
	}
	cb, err := canonical.MarshalCanonical(b)
	if err != nil {
		t.Fatalf("MarshalCanonical(b): %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical outputs differ:\nA: %s\nB: %s", ca, cb)
	}
	var tmp interface{}
	if err := json.Unmarshal(ca, &tmp); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v", err)
	}
}

func TestArraysAndNumbers(t *testing.T) {
	in := map[string]interface{}{
		"gates": []interface{}{"calibration_ece", "drift"},
		"ece":   json.Number("0.045"),
		"pass":  true,
		"tier":  nil,
	}
	c, err := canonical.MarshalCanonical(in)
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	want := `{"ece":0.045,"gates":["calibration_ece","drift"],"pass":true,"tier":null}`
	if string(c) != want {
		t.Fatalf("canonical output %s, want %s", c, want)
	}
}

func TestStructsRoundTrip(t *testing.T) {
	type payload struct {
		VersionID string `json:"version_id"`
		ModelType string `json:"model_type"`
	}
	a, err := canonical.MarshalCanonical(payload{VersionID: "2025-08-21", ModelType: "lgbm"})
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	want := `{"model_type":"lgbm","version_id":"2025-08-21"}`
	if string(a) != want {
		t.Fatalf("canonical output %s, want %s", a, want)
	}
}
