package http

import (
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"mhscore/db"
	"mhscore/ml"
	"mhscore/monitoring"
)

// surveyArtifact fits a small forest on synthetic survey rows.
func surveyArtifact(t *testing.T) *ml.Artifact {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	spec := ml.DefaultDatasetSpec()
	table := ml.NewTable(spec.FeatureNames())
	var y []float64

	genders := []string{"Female", "Male"}
	levels := []string{"High School", "Undergraduate", "Graduate"}
	countries := []string{"Japan", "USA", "India"}
	platforms := []string{"Instagram", "TikTok", "YouTube"}
	statuses := []string{"Single", "In Relationship"}
	for i := 0; i < 120; i++ {
		usage := 1 + rng.Float64()*7
		sleep := 4 + rng.Float64()*5
		conflicts := float64(rng.Intn(5))
		row := []ml.Value{
			ml.Num(float64(18 + rng.Intn(7))),
			ml.Text(genders[rng.Intn(len(genders))]),
			ml.Text(levels[rng.Intn(len(levels))]),
			ml.Text(countries[rng.Intn(len(countries))]),
			ml.Num(usage),
			ml.Text(platforms[rng.Intn(len(platforms))]),
			ml.Num(sleep),
			ml.Text(statuses[rng.Intn(len(statuses))]),
			ml.Num(conflicts),
		}
		if err := table.Append(row); err != nil {
			t.Fatalf("append row: %v", err)
		}
		y = append(y, math.Round(9-0.6*usage+0.4*sleep-0.5*conflicts))
	}

	forest := ml.DefaultForestConfig()
	forest.NEstimators = 10
	result, err := ml.Fit(table, y, ml.TrainingConfig{
		Forest:    forest,
		SplitRand: rand.New(rand.NewSource(1)),
	}, nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	return result.Artifact
}

type testEnv struct {
	handler   http.Handler
	predictor *ml.Predictor
	store     *db.Store
	metrics   *monitoring.MetricsCollector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	handle, err := ml.NewModelHandleFromArtifact(surveyArtifact(t), nil)
	if err != nil {
		t.Fatalf("model handle: %v", err)
	}
	return newTestEnvWithHandle(t, handle, nil)
}

func newTestEnvWithHandle(t *testing.T, handle *ml.ModelHandle, trainer *TrainingRunner) *testEnv {
	t.Helper()
	predictor, err := ml.NewPredictor(handle, 16, nil)
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	metrics := monitoring.NewMetricsCollector()
	handler := NewHandler(DefaultServerConfig(), Dependencies{
		Predictor: predictor,
		Store:     store,
		Metrics:   metrics,
		Trainer:   trainer,
	})
	return &testEnv{handler: handler, predictor: predictor, store: store, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

const exampleBody = `{
	"Age": 20,
	"Gender": "Male",
	"Academic_Level": "Undergraduate",
	"Country": "Japan",
	"Avg_Daily_Usage_Hours": 3.5,
	"Most_Used_Platform": "Instagram",
	"Sleep_Hours_Per_Night": 7,
	"Relationship_Status": "Single",
	"Conflicts_Over_Social_Media": 1
}`
