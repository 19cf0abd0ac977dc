package ml

import (
	"encoding/json"
	"fmt"
)

// migration rewrites an envelope of one format version into the next one.
type migration func(doc map[string]json.RawMessage) (map[string]json.RawMessage, error)

// migrations is keyed by the version a migration upgrades from.
var migrations = map[int]migration{
	1: migrateV1ToV2,
}

// migrate upgrades doc to ArtifactFormatVersion and reports the version it
// started from.
func migrate(doc map[string]json.RawMessage) (map[string]json.RawMessage, int, error) {
	from, err := envelopeVersion(doc)
	if err != nil {
		return nil, 0, err
	}
	version := from
	for version != ArtifactFormatVersion {
		if version > ArtifactFormatVersion {
			return nil, from, fmt.Errorf("%w: %d is newer than %d", ErrUnsupportedVersion, version, ArtifactFormatVersion)
		}
		step, ok := migrations[version]
		if !ok {
			return nil, from, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}
		doc, err = step(doc)
		if err != nil {
			return nil, from, fmt.Errorf("migrate artifact from version %d: %w", version, err)
		}
		next, err := envelopeVersion(doc)
		if err != nil {
			return nil, from, err
		}
		if next != version+1 {
			return nil, from, fmt.Errorf("migration from version %d produced version %d", version, next)
		}
		version = next
	}
	return doc, from, nil
}

func envelopeVersion(doc map[string]json.RawMessage) (int, error) {
	raw, ok := doc["format_version"]
	if !ok {
		return 0, fmt.Errorf("%w: envelope has no format_version", ErrUnsupportedVersion)
	}
	var version int
	if err := json.Unmarshal(raw, &version); err != nil {
		return 0, fmt.Errorf("%w: format_version: %v", ErrUnsupportedVersion, err)
	}
	return version, nil
}

// Version 1 kept the steps in a "named_steps" object and wrote the column
// transformer remainder as a bare string such as "drop". Version 2 keeps an
// ordered "steps" list and every remainder as a {"kind": ...} component.
type v1Pipeline struct {
	NamedSteps map[string]v1Step `json:"named_steps"`
}

type v1Step struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

func migrateV1ToV2(doc map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	var old v1Pipeline
	if err := json.Unmarshal(doc["pipeline"], &old); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	for name := range old.NamedSteps {
		if name != StepPreprocessor && name != StepRegressor {
			return nil, fmt.Errorf("unexpected step %q", name)
		}
	}
	pre, ok := old.NamedSteps[StepPreprocessor]
	if !ok {
		return nil, fmt.Errorf("missing step %q", StepPreprocessor)
	}
	reg, ok := old.NamedSteps[StepRegressor]
	if !ok {
		return nil, fmt.Errorf("missing step %q", StepRegressor)
	}

	preParams, err := upgradeRemainder(pre.Params)
	if err != nil {
		return nil, err
	}
	pipeline, err := json.Marshal(pipelineDoc{Steps: []stepDoc{
		{Name: StepPreprocessor, Kind: pre.Kind, Params: preParams},
		{Name: StepRegressor, Kind: reg.Kind, Params: reg.Params},
	}})
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["pipeline"] = pipeline
	out["format_version"] = json.RawMessage("2")
	if _, ok := out["artifact_id"]; !ok {
		out["artifact_id"] = json.RawMessage(`""`)
	}
	return out, nil
}

func upgradeRemainder(params json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, fmt.Errorf("preprocessor params: %w", err)
	}
	raw, ok := fields["remainder"]
	if !ok {
		return params, nil
	}
	var kind string
	if err := json.Unmarshal(raw, &kind); err != nil {
		// already a component object
		return params, nil
	}
	component, err := json.Marshal(componentDoc{Kind: kind})
	if err != nil {
		return nil, err
	}
	fields["remainder"] = component
	return json.Marshal(fields)
}
