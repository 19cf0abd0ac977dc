package ml

import (
	"encoding/csv"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

var (
	testGenders   = []string{"Female", "Male"}
	testLevels    = []string{"High School", "Undergraduate", "Graduate"}
	testCountries = []string{"Japan", "USA", "India", "UK", "Germany"}
	testPlatforms = []string{"Instagram", "TikTok", "Facebook", "YouTube"}
	testStatuses  = []string{"Single", "In Relationship", "Complicated"}
)

// syntheticSurvey builds n rows whose score mostly depends on usage, sleep
// and conflicts.
func syntheticSurvey(n int, seed int64) (*Table, []float64) {
	rng := rand.New(rand.NewSource(seed))
	spec := DefaultDatasetSpec()
	table := NewTable(spec.FeatureNames())
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		age := float64(18 + rng.Intn(7))
		usage := math.Round((1+rng.Float64()*7)*10) / 10
		sleep := math.Round((4+rng.Float64()*5)*10) / 10
		conflicts := float64(rng.Intn(5))
		platform := testPlatforms[rng.Intn(len(testPlatforms))]

		score := 9 - 0.6*usage + 0.4*sleep - 0.5*conflicts
		if platform == "TikTok" {
			score -= 0.5
		}
		score += rng.NormFloat64() * 0.2
		score = math.Round(score)

		row := []Value{
			Num(age),
			Text(testGenders[rng.Intn(len(testGenders))]),
			Text(testLevels[rng.Intn(len(testLevels))]),
			Text(testCountries[rng.Intn(len(testCountries))]),
			Num(usage),
			Text(platform),
			Num(sleep),
			Text(testStatuses[rng.Intn(len(testStatuses))]),
			Num(conflicts),
		}
		if err := table.Append(row); err != nil {
			panic(err)
		}
		y = append(y, score)
	}
	return table, y
}

func writeSurveyCSV(t *testing.T, dir string, table *Table, y []float64) string {
	t.Helper()
	path := filepath.Join(dir, "survey.csv")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create csv: %v", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := append([]string{"Student_ID"}, table.Columns...)
	header = append(header, ColMentalHealthScore)
	if err := w.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for i, row := range table.Rows {
		record := []string{strconv.Itoa(i + 1)}
		for _, v := range row {
			if v.IsText {
				record = append(record, v.Text)
			} else {
				record = append(record, strconv.FormatFloat(v.Number, 'f', -1, 64))
			}
		}
		record = append(record, strconv.FormatFloat(y[i], 'f', -1, 64))
		if err := w.Write(record); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("flush csv: %v", err)
	}
	return path
}

func smallForest() ForestConfig {
	cfg := DefaultForestConfig()
	cfg.NEstimators = 15
	return cfg
}

// fitSurvey trains a small pipeline on a fixed split.
func fitSurvey(t *testing.T, n int) *TrainResult {
	t.Helper()
	table, y := syntheticSurvey(n, 7)
	result, err := Fit(table, y, TrainingConfig{
		Forest:    smallForest(),
		SplitRand: rand.New(rand.NewSource(1)),
	}, nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	return result
}

func exampleRecord() Record {
	return Record{
		Age:                      20,
		Gender:                   StringPtr("Male"),
		AcademicLevel:            StringPtr("Undergraduate"),
		Country:                  StringPtr("Japan"),
		AvgDailyUsageHours:       3.5,
		MostUsedPlatform:         StringPtr("Instagram"),
		SleepHoursPerNight:       7,
		RelationshipStatus:       StringPtr("Single"),
		ConflictsOverSocialMedia: 1,
	}
}

// rewriteArtifact decodes the artifact at src, lets mutate edit the raw
// document and writes the result as plain JSON to dst.
func rewriteArtifact(t *testing.T, src, dst string, mutate func(doc map[string]interface{})) {
	t.Helper()
	payload, err := readArtifactFile(src)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	mutate(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func pipelineSteps(doc map[string]interface{}) []interface{} {
	return doc["pipeline"].(map[string]interface{})["steps"].([]interface{})
}

func preprocessorParams(doc map[string]interface{}) map[string]interface{} {
	return pipelineSteps(doc)[0].(map[string]interface{})["params"].(map[string]interface{})
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
