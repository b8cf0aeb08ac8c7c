// seeddeploy populates a deployment root with demo data so the service
// and CLI can be exercised locally: a few dated model versions with
// artifacts and cards, a registry document, and a shadow trade log.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

type latency struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type modelCard struct {
	ECE       float64         `json:"ece"`
	Accuracy  float64         `json:"accuracy"`
	Latency   latency         `json:"latency_ms"`
	Leakage   map[string]bool `json:"leakage_checks"`
	TrainedAt time.Time       `json:"trained_at"`
}

func main() {
	root := flag.String("root", "deploy", "deployment root to seed")
	versions := flag.Int("versions", 3, "daily versions to create, newest dated today")
	trades := flag.Int("trades", 40, "shadow trade records to write")
	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := *versions - 1; i >= 0; i-- {
		day := time.Now().AddDate(0, 0, -i)
		id := day.Format("2006-01-02")
		dir := filepath.Join(*root, "versions", id)
		must(os.MkdirAll(dir, 0o755))
		must(os.WriteFile(filepath.Join(dir, "model_lgbm.txt"), []byte("seeded lgbm weights\n"), 0o644))
		must(os.WriteFile(filepath.Join(dir, "model_tft.pt"), []byte("seeded tft weights\n"), 0o644))

		card := modelCard{
			ECE:      0.02 + rng.Float64()*0.03,
			Accuracy: 0.68 + rng.Float64()*0.08,
			Latency: latency{
				P50: 9 + rng.Float64()*4,
				P95: 30 + rng.Float64()*15,
				P99: 60 + rng.Float64()*25,
			},
			Leakage:   map[string]bool{"target_leak": false, "future_features": false},
			TrainedAt: day.Add(-2 * time.Hour).UTC(),
		}
		cardB, err := json.MarshalIndent(card, "", "  ")
		must(err)
		must(os.WriteFile(filepath.Join(dir, "model_card.json"), cardB, 0o644))
		fmt.Printf("wrote version -> %s\n", dir)
	}

	registry := map[string]interface{}{
		"current": map[string]interface{}{
			"calibration": map[string]interface{}{"ece_calibrated": 0.031},
			"policy":      map[string]interface{}{"entry_threshold": 0.62, "exit_threshold": 0.55},
		},
	}
	registryB, err := json.MarshalIndent(registry, "", "  ")
	must(err)
	registryPath := filepath.Join(*root, "registry.json")
	must(os.WriteFile(registryPath, registryB, 0o644))
	fmt.Printf("wrote registry -> %s\n", registryPath)

	shadowDir := filepath.Join(*root, "shadow")
	must(os.MkdirAll(shadowDir, 0o755))
	shadowPath := filepath.Join(shadowDir, "trades.jsonl")
	f, err := os.Create(shadowPath)
	must(err)
	symbols := []string{"ES", "NQ", "CL", "GC"}
	for i := 0; i < *trades; i++ {
		ts := time.Now().Add(-time.Duration(rng.Intn(3600)) * time.Second).UTC()
		fmt.Fprintf(f, `{"ts":%q,"symbol":%q,"qty":%d,"px":%.2f}`+"\n",
			ts.Format(time.RFC3339), symbols[rng.Intn(len(symbols))], 1+rng.Intn(5), 100+rng.Float64()*50)
	}
	must(f.Close())
	fmt.Printf("wrote %d shadow trades -> %s\n", *trades, shadowPath)
}
