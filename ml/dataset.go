package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindCategorical ColumnKind = "categorical"
)

type ColumnDef struct {
	Name string     `json:"name" yaml:"name"`
	Kind ColumnKind `json:"kind" yaml:"kind"`
}

// DatasetSpec names the feature columns and the target column of a CSV dataset.
type DatasetSpec struct {
	Features []ColumnDef
	Target   string
}

// DefaultDatasetSpec describes the social media addiction survey.
func DefaultDatasetSpec() DatasetSpec {
	return DatasetSpec{
		Features: []ColumnDef{
			{ColAge, KindNumeric},
			{ColGender, KindCategorical},
			{ColAcademicLevel, KindCategorical},
			{ColCountry, KindCategorical},
			{ColAvgDailyUsageHours, KindNumeric},
			{ColMostUsedPlatform, KindCategorical},
			{ColSleepHoursPerNight, KindNumeric},
			{ColRelationshipStatus, KindCategorical},
			{ColConflictsOverSocial, KindNumeric},
		},
		Target: ColMentalHealthScore,
	}
}

func (s DatasetSpec) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

func (s DatasetSpec) columnsOfKind(kind ColumnKind) []string {
	var names []string
	for _, f := range s.Features {
		if f.Kind == kind {
			names = append(names, f.Name)
		}
	}
	return names
}

func (s DatasetSpec) CategoricalColumns() []string { return s.columnsOfKind(KindCategorical) }

func (s DatasetSpec) NumericColumns() []string { return s.columnsOfKind(KindNumeric) }

// LoadDataset reads a CSV file with a header row.
func LoadDataset(path string, spec DatasetSpec) (*Table, []float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return ReadDataset(file, spec)
}

// ReadDataset decodes UTF-8 CSV (a leading BOM is dropped) into a feature
// table and a target vector. Headers must match column names exactly.
func ReadDataset(r io.Reader, spec DatasetSpec) (*Table, []float64, error) {
	if len(spec.Features) == 0 || spec.Target == "" {
		return nil, nil, errors.New("dataset spec needs features and a target")
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.New("dataset is empty")
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	position := make(map[string]int, len(header))
	for i, name := range header {
		position[strings.TrimSpace(name)] = i
	}

	featureIdx := make([]int, len(spec.Features))
	for i, f := range spec.Features {
		idx, ok := position[f.Name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, f.Name)
		}
		featureIdx[i] = idx
	}
	targetIdx, ok := position[spec.Target]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, spec.Target)
	}

	table := NewTable(spec.FeatureNames())
	var y []float64
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := make([]Value, len(spec.Features))
		for i, f := range spec.Features {
			cell := strings.TrimSpace(record[featureIdx[i]])
			if f.Kind == KindNumeric {
				v, err := parseNumber(cell)
				if err != nil {
					return nil, nil, fmt.Errorf("line %d column %s: %w", line, f.Name, err)
				}
				row[i] = Num(v)
				continue
			}
			row[i] = Text(cell)
		}
		target, err := parseNumber(strings.TrimSpace(record[targetIdx]))
		if err != nil {
			return nil, nil, fmt.Errorf("line %d column %s: %w", line, spec.Target, err)
		}
		if err := table.Append(row); err != nil {
			return nil, nil, err
		}
		y = append(y, target)
	}
	if table.Len() == 0 {
		return nil, nil, errors.New("dataset has no rows")
	}
	return table, y, nil
}

func parseNumber(cell string) (float64, error) {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, cell)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidValue, cell)
	}
	return v, nil
}

// Split holds disjoint train and test partitions of a dataset.
type Split struct {
	Train      *Table
	TrainY     []float64
	Test       *Table
	TestY      []float64
	TrainIndex []int
	TestIndex  []int
}

// SplitDataset shuffles row indices with rng and holds out ceil(n*testRatio)
// rows for evaluation. A testRatio outside (0, 1) falls back to 0.25.
func SplitDataset(table *Table, y []float64, testRatio float64, rng *rand.Rand) (*Split, error) {
	n := table.Len()
	if n != len(y) {
		return nil, errors.New("features and target size mismatch")
	}
	if n < 2 {
		return nil, errors.New("need at least two rows to split")
	}
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.25
	}
	nTest := int(math.Ceil(float64(n) * testRatio))
	if nTest >= n {
		nTest = n - 1
	}

	perm := rng.Perm(n)
	testIdx := append([]int(nil), perm[:nTest]...)
	trainIdx := append([]int(nil), perm[nTest:]...)

	split := &Split{
		Train:      table.Subset(trainIdx),
		Test:       table.Subset(testIdx),
		TrainY:     make([]float64, len(trainIdx)),
		TestY:      make([]float64, len(testIdx)),
		TrainIndex: trainIdx,
		TestIndex:  testIdx,
	}
	for i, idx := range trainIdx {
		split.TrainY[i] = y[idx]
	}
	for i, idx := range testIdx {
		split.TestY[i] = y[idx]
	}
	return split, nil
}
