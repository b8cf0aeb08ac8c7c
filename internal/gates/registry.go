package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// RegistrySnapshot is the slice of the model registry document the
// controller consumes. Pointers distinguish absent fields from zeros.
type RegistrySnapshot struct {
	ECECalibrated  *float64
	EntryThreshold *float64
	ExitThreshold  *float64
}

// RegistryReader reads the registry JSON document maintained by the
// calibration collaborator.
type RegistryReader struct {
	path string
}

func NewRegistryReader(path string) *RegistryReader {
	return &RegistryReader{path: path}
}

type registryDoc struct {
	Current struct {
		Calibration struct {
			ECECalibrated *float64 `json:"ece_calibrated"`
		} `json:"calibration"`
		Policy struct {
			EntryThreshold *float64 `json:"entry_threshold"`
			ExitThreshold  *float64 `json:"exit_threshold"`
		} `json:"policy"`
	} `json:"current"`
}

func (r *RegistryReader) Read(ctx context.Context) (RegistrySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return RegistrySnapshot{}, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return RegistrySnapshot{}, fmt.Errorf("read registry: %w", err)
	}
	var doc registryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return RegistrySnapshot{}, fmt.Errorf("parse registry: %w", err)
	}
	return RegistrySnapshot{
		ECECalibrated:  doc.Current.Calibration.ECECalibrated,
		EntryThreshold: doc.Current.Policy.EntryThreshold,
		ExitThreshold:  doc.Current.Policy.ExitThreshold,
	}, nil
}
