package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockState tracks when a job finishes and how it ends.
type mockState struct {
	doneAt time.Time
	fail   bool
}

// StartFlakyAnalysisServer runs a status endpoint that behaves like a busy
// analysis service. Each job processes for 3-8 seconds, one in five fails,
// and one in four queries answers 503 regardless of the job.
// Call this in a goroutine before creating the poller.
func StartFlakyAnalysisServer(addr string) {
	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
	)

	http.HandleFunc("/api/analyze/result/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/analyze/result/")

		// simulate small latency variance
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		if rand.Intn(4) == 0 {
			http.Error(w, "service busy", http.StatusServiceUnavailable)
			return
		}

		mu.Lock()
		state, exists := states[id]
		if !exists {
			state = &mockState{
				doneAt: time.Now().Add(time.Duration(3+rand.Intn(6)) * time.Second),
				fail:   rand.Intn(5) == 0,
			}
			states[id] = state
		}
		mu.Unlock()

		resp := map[string]any{"id": id, "status": "processing"}
		switch {
		case time.Now().Before(state.doneAt):
		case state.fail:
			resp["status"] = "failed"
			resp["message"] = "image too blurry, please retake"
		default:
			resp["status"] = "completed"
			resp["timestamp"] = state.doneAt.UTC()
			resp["soil"] = map[string]any{
				"soilType": "Loamy", "pH": 6.8, "nitrogen": 0.9, "phosphorus": 0.4,
				"potassium": 1.2, "organicMatter": 3.1, "moisture": 22.5,
				"healthScore": 81, "confidence": 92,
			}
			resp["crops"] = []map[string]any{
				{"name": "Wheat", "nameHindi": "गेहूं", "suitability": 91, "expectedYield": 38.5,
					"growthPeriod": 120, "waterNeeds": "medium", "icon": "🌾"},
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
