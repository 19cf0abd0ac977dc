package ml

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func savedSurveyArtifact(t *testing.T) (*TrainResult, string) {
	t.Helper()
	result := fitSurvey(t, 160)
	path := filepath.Join(t.TempDir(), "model.mhs")
	if err := SaveArtifact(path, result.Artifact); err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	return result, path
}

func TestArtifactRoundTrip(t *testing.T) {
	result, path := savedSurveyArtifact(t)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatal("expected a gzip compressed artifact")
	}

	loaded, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.ID != result.Artifact.ID || loaded.FormatVersion != ArtifactFormatVersion {
		t.Fatalf("identity lost: got %s v%d", loaded.ID, loaded.FormatVersion)
	}
	if loaded.MigratedFrom != 0 || len(loaded.Placeholders) != 0 {
		t.Fatalf("fresh artifact should load without migration or placeholders: %+v", loaded)
	}
	if !loaded.CreatedAt.Equal(result.Artifact.CreatedAt) {
		t.Fatalf("created_at changed: %v vs %v", loaded.CreatedAt, result.Artifact.CreatedAt)
	}

	want, err := result.Artifact.Pipeline.Predict(result.Split.Test)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := loaded.Pipeline.Predict(result.Split.Test)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reloaded predictions differ (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestLoadArtifactRemainderPlaceholder(t *testing.T) {
	result, path := savedSurveyArtifact(t)
	drifted := filepath.Join(t.TempDir(), "drifted.json")
	rewriteArtifact(t, path, drifted, func(doc map[string]interface{}) {
		preprocessorParams(doc)["remainder"] = map[string]interface{}{
			"kind":   "remainder_cols_list",
			"params": []interface{}{"Student_ID"},
		}
	})

	loaded, err := LoadArtifact(drifted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"remainder_cols_list"}, loaded.Placeholders); diff != "" {
		t.Fatalf("placeholders mismatch (-want +got):\n%s", diff)
	}

	want, _ := result.Artifact.Pipeline.Predict(result.Split.Test)
	got, err := loaded.Pipeline.Predict(result.Split.Test)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("placeholder changed predictions (-want +got):\n%s", diff)
	}

	if _, err := LoadArtifactStrict(drifted); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("strict load should reject unknown remainder, got %v", err)
	}

	// A placeholder keeps its raw parameters when the artifact is saved again.
	resaved := filepath.Join(t.TempDir(), "resaved.mhs")
	if err := SaveArtifact(resaved, loaded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := LoadArtifact(resaved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again.Placeholders) != 1 {
		t.Fatalf("expected placeholder to survive a resave, got %v", again.Placeholders)
	}
}

func TestLoadArtifactEmptyTransformerPlaceholder(t *testing.T) {
	result, path := savedSurveyArtifact(t)
	drifted := filepath.Join(t.TempDir(), "drifted.json")
	rewriteArtifact(t, path, drifted, func(doc map[string]interface{}) {
		params := preprocessorParams(doc)
		transformers := params["transformers"].([]interface{})
		params["transformers"] = append(transformers, map[string]interface{}{
			"name":    "legacy",
			"kind":    "function_transformer",
			"columns": []interface{}{},
		})
	})

	loaded, err := LoadArtifact(drifted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Placeholders) != 1 || loaded.Placeholders[0] != "function_transformer" {
		t.Fatalf("unexpected placeholders: %v", loaded.Placeholders)
	}
	if diff := cmp.Diff(result.Artifact.Pipeline.Preprocessor.FeatureNamesOut(), loaded.Pipeline.Preprocessor.FeatureNamesOut()); diff != "" {
		t.Fatalf("empty transformer changed the feature layout (-want +got):\n%s", diff)
	}
}

func TestLoadArtifactUnknownFeatureProducer(t *testing.T) {
	_, path := savedSurveyArtifact(t)

	unknownEncoder := filepath.Join(t.TempDir(), "encoder.json")
	rewriteArtifact(t, path, unknownEncoder, func(doc map[string]interface{}) {
		transformers := preprocessorParams(doc)["transformers"].([]interface{})
		transformers[0].(map[string]interface{})["kind"] = "target_encoder"
	})
	if _, err := LoadArtifact(unknownEncoder); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}

	unknownRegressor := filepath.Join(t.TempDir(), "regressor.json")
	rewriteArtifact(t, path, unknownRegressor, func(doc map[string]interface{}) {
		pipelineSteps(doc)[1].(map[string]interface{})["kind"] = "gradient_boosting_regressor"
	})
	if _, err := LoadArtifact(unknownRegressor); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestLoadArtifactUnknownFields(t *testing.T) {
	_, path := savedSurveyArtifact(t)
	drifted := filepath.Join(t.TempDir(), "fields.json")
	rewriteArtifact(t, path, drifted, func(doc map[string]interface{}) {
		doc["trainer_host"] = "ci-runner-3"
	})

	if _, err := LoadArtifact(drifted); err != nil {
		t.Fatalf("tolerant load should ignore unknown fields: %v", err)
	}
	if _, err := LoadArtifactStrict(drifted); err == nil {
		t.Fatal("strict load should reject unknown fields")
	}
}

func TestLoadArtifactMigratesV1(t *testing.T) {
	result, path := savedSurveyArtifact(t)
	legacy := filepath.Join(t.TempDir(), "legacy.json")
	rewriteArtifact(t, path, legacy, func(doc map[string]interface{}) {
		steps := pipelineSteps(doc)
		pre := steps[0].(map[string]interface{})
		reg := steps[1].(map[string]interface{})
		params := pre["params"].(map[string]interface{})
		params["remainder"] = "drop"

		doc["format_version"] = 1
		delete(doc, "artifact_id")
		doc["pipeline"] = map[string]interface{}{
			"named_steps": map[string]interface{}{
				"preprocessor": map[string]interface{}{"kind": pre["kind"], "params": params},
				"regressor":    map[string]interface{}{"kind": reg["kind"], "params": reg["params"]},
			},
		}
	})

	loaded, err := LoadArtifact(legacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.MigratedFrom != 1 || loaded.FormatVersion != ArtifactFormatVersion {
		t.Fatalf("expected migration from 1 to %d, got from %d to %d", ArtifactFormatVersion, loaded.MigratedFrom, loaded.FormatVersion)
	}
	if loaded.ID != "" {
		t.Fatalf("expected empty artifact id for a v1 artifact, got %q", loaded.ID)
	}
	want, _ := result.Artifact.Pipeline.Predict(result.Split.Test)
	got, err := loaded.Pipeline.Predict(result.Split.Test)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("migrated predictions differ (-want +got):\n%s", diff)
	}
}

func TestLoadArtifactVersionErrors(t *testing.T) {
	_, path := savedSurveyArtifact(t)
	for name, version := range map[string]interface{}{"future": 3, "ancient": 0} {
		t.Run(name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), name+".json")
			rewriteArtifact(t, path, dst, func(doc map[string]interface{}) {
				doc["format_version"] = version
			})
			if _, err := LoadArtifact(dst); !errors.Is(err, ErrUnsupportedVersion) {
				t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
			}
		})
	}

	missing := filepath.Join(t.TempDir(), "unversioned.json")
	rewriteArtifact(t, path, missing, func(doc map[string]interface{}) {
		delete(doc, "format_version")
	})
	if _, err := LoadArtifact(missing); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestLoadArtifactCorrupt(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.mhs")
	if err := os.WriteFile(garbage, []byte("not an artifact"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadArtifact(garbage); err == nil {
		t.Fatal("expected error for a corrupt artifact")
	}

	truncated := filepath.Join(dir, "truncated.mhs")
	if err := os.WriteFile(truncated, []byte{0x1f, 0x8b, 0x08}, 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadArtifact(truncated); err == nil {
		t.Fatal("expected error for a truncated gzip stream")
	}

	if _, err := LoadArtifact(filepath.Join(dir, "absent.mhs")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSaveArtifactRejectsUnfitted(t *testing.T) {
	p := NewPipeline(DefaultDatasetSpec(), smallForest())
	err := SaveArtifact(filepath.Join(t.TempDir(), "model.mhs"), NewArtifact(p))
	if err == nil {
		t.Fatal("expected error for an unfitted pipeline")
	}
}

func TestPlaceholderComponent(t *testing.T) {
	ph := &placeholderComponent{kind: "remainder_cols_list", params: json.RawMessage(`["a"]`)}
	if ph.String() != "remainder_cols_list()" {
		t.Fatalf("unexpected string: %s", ph)
	}
	if err := ph.Fit(nil, nil); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("placeholders must refuse to fit, got %v", err)
	}
	out, err := ph.Transform(make([][]Value, 3))
	if err != nil || len(out) != 3 || len(out[0]) != 0 {
		t.Fatalf("expected three empty rows, got %v (%v)", out, err)
	}
}
