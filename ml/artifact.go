package ml

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// ArtifactFormatVersion is the envelope layout written by this build.
const ArtifactFormatVersion = 2

var (
	ErrUnknownComponent   = errors.New("unknown component kind")
	ErrUnsupportedVersion = errors.New("unsupported artifact format version")
)

// Artifact is a fitted pipeline plus its identity. It is never modified after
// it has been saved or loaded.
type Artifact struct {
	FormatVersion int
	ID            string
	CreatedAt     time.Time
	Pipeline      *Pipeline

	// MigratedFrom is the on-disk format version when a migration ran, else 0.
	MigratedFrom int
	// Placeholders lists component kinds that were stubbed during load.
	Placeholders []string
}

func NewArtifact(p *Pipeline) *Artifact {
	return &Artifact{
		FormatVersion: ArtifactFormatVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Pipeline:      p,
	}
}

type artifactEnvelope struct {
	FormatVersion int             `json:"format_version"`
	ArtifactID    string          `json:"artifact_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Pipeline      json.RawMessage `json:"pipeline"`
}

type pipelineDoc struct {
	Steps []stepDoc `json:"steps"`
}

type stepDoc struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

type columnTransformerDoc struct {
	FeatureNamesIn []string         `json:"feature_names_in"`
	Transformers   []transformerDoc `json:"transformers"`
	Remainder      componentDoc     `json:"remainder"`
}

type transformerDoc struct {
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Columns []string        `json:"columns"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type componentDoc struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SaveArtifact writes the artifact as gzip-compressed JSON. The file is
// replaced atomically, so a failed save leaves any previous artifact intact.
func SaveArtifact(path string, a *Artifact) error {
	payload, err := encodeArtifact(a)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := gzip.NewWriter(tmp)
	if _, err := zw.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadArtifact reads an artifact, upgrading older format versions. It first
// decodes tolerantly, stubbing unknown components in slots that never
// produce features. If that fails, a strict decode runs and its error is
// returned.
func LoadArtifact(path string) (*Artifact, error) {
	payload, err := readArtifactFile(path)
	if err != nil {
		return nil, err
	}
	a, err := decodeArtifact(payload, tolerantDecode)
	if err == nil {
		return a, nil
	}
	strict, strictErr := decodeArtifact(payload, strictDecode)
	if strictErr != nil {
		return nil, strictErr
	}
	return strict, nil
}

// LoadArtifactStrict decodes without placeholder substitution.
func LoadArtifactStrict(path string) (*Artifact, error) {
	payload, err := readArtifactFile(path)
	if err != nil {
		return nil, err
	}
	return decodeArtifact(payload, strictDecode)
}

func readArtifactFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	br := bufio.NewReader(file)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", path, err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return io.ReadAll(br)
}

func encodeArtifact(a *Artifact) ([]byte, error) {
	if a == nil || a.Pipeline == nil {
		return nil, errors.New("artifact has no pipeline")
	}
	if err := a.Pipeline.validate(); err != nil {
		return nil, err
	}
	pipeline, err := encodePipeline(a.Pipeline)
	if err != nil {
		return nil, err
	}
	return json.Marshal(artifactEnvelope{
		FormatVersion: ArtifactFormatVersion,
		ArtifactID:    a.ID,
		CreatedAt:     a.CreatedAt,
		Pipeline:      pipeline,
	})
}

func encodePipeline(p *Pipeline) (json.RawMessage, error) {
	ct := p.Preprocessor
	doc := columnTransformerDoc{
		FeatureNamesIn: ct.FeatureNamesIn,
		Remainder:      componentDoc{Kind: KindDrop},
	}
	for _, tr := range ct.Transformers {
		params, err := json.Marshal(tr.Transformer)
		if err != nil {
			return nil, fmt.Errorf("encode transformer %s: %w", tr.Name, err)
		}
		doc.Transformers = append(doc.Transformers, transformerDoc{
			Name:    tr.Name,
			Kind:    tr.Transformer.Kind(),
			Columns: tr.Columns,
			Params:  params,
		})
	}
	if ct.Remainder != nil {
		params, err := json.Marshal(ct.Remainder)
		if err != nil {
			return nil, fmt.Errorf("encode remainder: %w", err)
		}
		doc.Remainder = componentDoc{Kind: ct.Remainder.Kind()}
		if string(params) != "{}" && string(params) != "null" {
			doc.Remainder.Params = params
		}
	}

	preParams, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	regParams, err := json.Marshal(p.Regressor)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pipelineDoc{Steps: []stepDoc{
		{Name: StepPreprocessor, Kind: KindColumnTransformer, Params: preParams},
		{Name: StepRegressor, Kind: p.Regressor.Kind(), Params: regParams},
	}})
}

type decodeMode int

const (
	strictDecode decodeMode = iota
	tolerantDecode
)

type artifactDecoder struct {
	mode         decodeMode
	placeholders []string
}

func decodeArtifact(payload []byte, mode decodeMode) (*Artifact, error) {
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	doc, from, err := migrate(doc)
	if err != nil {
		return nil, err
	}
	upgraded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	d := &artifactDecoder{mode: mode}
	var env artifactEnvelope
	if err := d.unmarshal(upgraded, &env); err != nil {
		return nil, fmt.Errorf("decode artifact envelope: %w", err)
	}
	p, err := d.decodePipeline(env.Pipeline)
	if err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	a := &Artifact{
		FormatVersion: env.FormatVersion,
		ID:            env.ArtifactID,
		CreatedAt:     env.CreatedAt,
		Pipeline:      p,
		Placeholders:  d.placeholders,
	}
	if from != ArtifactFormatVersion {
		a.MigratedFrom = from
	}
	return a, nil
}

func (d *artifactDecoder) unmarshal(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if d.mode == strictDecode {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(v)
}

func (d *artifactDecoder) decodePipeline(raw json.RawMessage) (*Pipeline, error) {
	var doc pipelineDoc
	if err := d.unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	p := &Pipeline{}
	for _, step := range doc.Steps {
		switch step.Name {
		case StepPreprocessor:
			if step.Kind != KindColumnTransformer {
				return nil, fmt.Errorf("step %s: %w: %s", step.Name, ErrUnknownComponent, step.Kind)
			}
			ct, err := d.decodeColumnTransformer(step.Params)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step.Name, err)
			}
			p.Preprocessor = ct
		case StepRegressor:
			decode, ok := regressorDecoders[step.Kind]
			if !ok {
				return nil, fmt.Errorf("step %s: %w: %s", step.Name, ErrUnknownComponent, step.Kind)
			}
			reg, err := decode(step.Params)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step.Name, err)
			}
			p.Regressor = reg
		default:
			return nil, fmt.Errorf("unexpected pipeline step %q", step.Name)
		}
	}
	return p, nil
}

func (d *artifactDecoder) decodeColumnTransformer(raw json.RawMessage) (*ColumnTransformer, error) {
	var doc columnTransformerDoc
	if err := d.unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode column transformer: %w", err)
	}
	if len(doc.FeatureNamesIn) == 0 {
		return nil, fmt.Errorf("column transformer: %w", ErrNotFitted)
	}
	ct := &ColumnTransformer{FeatureNamesIn: doc.FeatureNamesIn}
	for _, td := range doc.Transformers {
		tr, err := d.decodeTransformer(td)
		if err != nil {
			return nil, fmt.Errorf("transformer %s: %w", td.Name, err)
		}
		ct.Transformers = append(ct.Transformers, ColumnTransform{Name: td.Name, Columns: td.Columns, Transformer: tr})
	}

	switch doc.Remainder.Kind {
	case "", KindDrop:
		ct.Remainder = dropRemainder{}
	default:
		ph, err := d.placeholder(doc.Remainder.Kind, doc.Remainder.Params)
		if err != nil {
			return nil, fmt.Errorf("remainder: %w", err)
		}
		ct.Remainder = ph
	}
	return ct, nil
}

func (d *artifactDecoder) decodeTransformer(td transformerDoc) (Transformer, error) {
	decode, ok := transformerDecoders[td.Kind]
	if !ok {
		if len(td.Columns) > 0 {
			// The transformer would have to produce features; no stub can do that.
			return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, td.Kind)
		}
		return d.placeholder(td.Kind, td.Params)
	}
	if len(td.Columns) == 0 {
		return decode(nil, td.Params, true)
	}
	return decode(td.Columns, td.Params, false)
}

func (d *artifactDecoder) placeholder(kind string, params json.RawMessage) (Transformer, error) {
	if d.mode == strictDecode {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, kind)
	}
	d.placeholders = append(d.placeholders, kind)
	return &placeholderComponent{kind: kind, params: params}, nil
}

type transformerDecoder func(columns []string, params json.RawMessage, empty bool) (Transformer, error)

var transformerDecoders = map[string]transformerDecoder{
	KindStandardScaler: func(columns []string, params json.RawMessage, empty bool) (Transformer, error) {
		s := &StandardScaler{}
		if err := unmarshalParams(params, s); err != nil {
			return nil, err
		}
		if empty {
			return s, nil
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		return s, checkColumns(columns, s.FeatureNamesIn)
	},
	KindOneHotEncoder: func(columns []string, params json.RawMessage, empty bool) (Transformer, error) {
		e := NewOneHotEncoder()
		if err := unmarshalParams(params, e); err != nil {
			return nil, err
		}
		if empty {
			return e, nil
		}
		if err := e.validate(); err != nil {
			return nil, err
		}
		return e, checkColumns(columns, e.FeatureNamesIn)
	},
}

var regressorDecoders = map[string]func(json.RawMessage) (Regressor, error){
	KindRandomForestRegressor: func(params json.RawMessage) (Regressor, error) {
		f := &RandomForestRegressor{}
		if err := unmarshalParams(params, f); err != nil {
			return nil, err
		}
		if err := f.validate(); err != nil {
			return nil, err
		}
		return f, nil
	},
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func checkColumns(declared, fitted []string) error {
	if len(declared) != len(fitted) {
		return fmt.Errorf("declared columns %v differ from fitted columns %v", declared, fitted)
	}
	for i := range declared {
		if declared[i] != fitted[i] {
			return fmt.Errorf("declared columns %v differ from fitted columns %v", declared, fitted)
		}
	}
	return nil
}

// placeholderComponent stands in for a component kind this build does not
// know. It only ever fills slots that produce no features.
type placeholderComponent struct {
	kind   string
	params json.RawMessage
}

func (p *placeholderComponent) Kind() string { return p.kind }

func (p *placeholderComponent) Fit([]string, [][]Value) error {
	return fmt.Errorf("%w: %s is a load-time placeholder", ErrUnknownComponent, p.kind)
}

func (p *placeholderComponent) Transform(data [][]Value) ([][]float64, error) {
	return make([][]float64, len(data)), nil
}

func (p *placeholderComponent) FeatureNamesOut() []string { return nil }

func (p *placeholderComponent) MarshalJSON() ([]byte, error) {
	if len(p.params) == 0 {
		return []byte("null"), nil
	}
	return p.params, nil
}

func (p *placeholderComponent) String() string {
	return p.kind + "()"
}
