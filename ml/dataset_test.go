package ml

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const surveyHeader = "Student_ID,Age,Gender,Academic_Level,Country,Avg_Daily_Usage_Hours,Most_Used_Platform,Affects_Academic_Performance,Sleep_Hours_Per_Night,Mental_Health_Score,Relationship_Status,Conflicts_Over_Social_Media,Addicted_Score\n"

func TestReadDatasetWithBOM(t *testing.T) {
	csv := "\ufeff" + surveyHeader +
		"1,19,Female,Undergraduate,Bangladesh,5.2,Instagram,Yes,6.5,6,In Relationship,3,8\n" +
		"2,22,Male,Graduate,India,2.1,Twitter,No,7.5,8,Single,0,3\n"

	table, y, err := ReadDataset(strings.NewReader(csv), DefaultDatasetSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 2 || len(y) != 2 {
		t.Fatalf("expected 2 rows, got %d/%d", table.Len(), len(y))
	}
	if y[0] != 6 || y[1] != 8 {
		t.Fatalf("unexpected targets: %v", y)
	}
	if table.Columns[0] != ColAge {
		t.Fatalf("BOM leaked into the first column: %q", table.Columns[0])
	}
	row := table.Rows[1]
	if row[0].Number != 22 || row[1].Text != "Male" || row[3].Text != "India" {
		t.Fatalf("unexpected row: %v", row)
	}
	if len(row) != len(DefaultDatasetSpec().Features) {
		t.Fatalf("extra columns should be dropped, got %d values", len(row))
	}
}

func TestReadDatasetErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want error
	}{
		{
			name: "missing feature column",
			csv:  "Age,Gender,Mental_Health_Score\n19,Female,6\n",
			want: ErrMissingColumn,
		},
		{
			name: "missing target column",
			csv:  strings.Replace(surveyHeader, "Mental_Health_Score", "Score", 1) + "1,19,Female,Undergraduate,Bangladesh,5.2,Instagram,Yes,6.5,6,Single,3,8\n",
			want: ErrMissingColumn,
		},
		{
			name: "non numeric age",
			csv:  surveyHeader + "1,nineteen,Female,Undergraduate,Bangladesh,5.2,Instagram,Yes,6.5,6,Single,3,8\n",
			want: ErrInvalidValue,
		},
		{
			name: "infinite usage",
			csv:  surveyHeader + "1,19,Female,Undergraduate,Bangladesh,Inf,Instagram,Yes,6.5,6,Single,3,8\n",
			want: ErrInvalidValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadDataset(strings.NewReader(tt.csv), DefaultDatasetSpec())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, _, err := ReadDataset(strings.NewReader(surveyHeader), DefaultDatasetSpec()); err == nil {
		t.Fatal("expected error for a header-only dataset")
	}
	if _, _, err := ReadDataset(strings.NewReader(""), DefaultDatasetSpec()); err == nil {
		t.Fatal("expected error for an empty dataset")
	}
}

func TestLoadDatasetFile(t *testing.T) {
	table, y := syntheticSurvey(30, 5)
	path := writeSurveyCSV(t, t.TempDir(), table, y)

	loaded, targets, err := LoadDataset(path, DefaultDatasetSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Len() != 30 {
		t.Fatalf("expected 30 rows, got %d", loaded.Len())
	}
	for i := range y {
		if targets[i] != y[i] {
			t.Fatalf("row %d: expected target %f, got %f", i, y[i], targets[i])
		}
	}

	if _, _, err := LoadDataset(filepath.Join(t.TempDir(), "missing.csv"), DefaultDatasetSpec()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSplitDataset(t *testing.T) {
	table, y := syntheticSurvey(200, 2)
	split, err := SplitDataset(table, y, 0.25, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if split.Test.Len() != 50 || split.Train.Len() != 150 {
		t.Fatalf("expected 150/50 split, got %d/%d", split.Train.Len(), split.Test.Len())
	}

	all := append(append([]int(nil), split.TrainIndex...), split.TestIndex...)
	sort.Ints(all)
	for i, idx := range all {
		if idx != i {
			t.Fatalf("split is not a partition of the rows: index %d at position %d", idx, i)
		}
	}
	for i, idx := range split.TestIndex {
		if split.TestY[i] != y[idx] {
			t.Fatalf("test target %d is misaligned", i)
		}
	}

	odd, err := SplitDataset(table.Subset([]int{0, 1, 2, 3, 4, 5, 6}), y[:7], 0, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if odd.Test.Len() != 2 {
		t.Fatalf("expected ceil(7*0.25)=2 test rows, got %d", odd.Test.Len())
	}

	if _, err := SplitDataset(table.Subset([]int{0}), y[:1], 0.25, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error for a single row")
	}
	if _, err := SplitDataset(table, y[:10], 0.25, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error for mismatched targets")
	}
}
