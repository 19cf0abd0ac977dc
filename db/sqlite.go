package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mhscore/ml"
)

// Store keeps training runs and served predictions in SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		database.SetMaxOpenConns(1)
	}

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        artifact_id TEXT NOT NULL,
        artifact_path TEXT NOT NULL,
        train_rows INTEGER NOT NULL,
        test_rows INTEGER NOT NULL,
        r2 REAL,
        mae REAL,
        rmse REAL,
        duration_ms INTEGER DEFAULT 0,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        artifact_id TEXT NOT NULL,
        score REAL NOT NULL,
        cached INTEGER DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_artifact ON predictions(artifact_id);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TrainingLog is one row of the training_log table.
type TrainingLog struct {
	RunID        string    `json:"run_id"`
	ArtifactID   string    `json:"artifact_id"`
	ArtifactPath string    `json:"artifact_path"`
	TrainRows    int       `json:"train_rows"`
	TestRows     int       `json:"test_rows"`
	R2           float64   `json:"r2"`
	MAE          float64   `json:"mae"`
	RMSE         float64   `json:"rmse"`
	DurationMS   int64     `json:"duration_ms"`
	TrainedAt    time.Time `json:"trained_at"`
}

func (s *Store) SaveTrainingRun(report *ml.TrainingReport) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if report == nil {
		return errors.New("training report required")
	}
	_, err := s.db.Exec(`
        INSERT INTO training_log (
            run_id, artifact_id, artifact_path, train_rows, test_rows,
            r2, mae, rmse, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		report.RunID,
		report.ArtifactID,
		report.ArtifactPath,
		report.TrainRows,
		report.TestRows,
		report.Metrics.R2,
		report.Metrics.MAE,
		report.Metrics.RMSE,
		report.Duration.Milliseconds(),
		report.TrainedAt.UTC(),
	)
	return err
}

// LoadTrainingLog returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
        SELECT run_id, artifact_id, artifact_path, train_rows, test_rows,
               r2, mae, rmse, duration_ms, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var r2, mae, rmse sql.NullFloat64
		if err := rows.Scan(&log.RunID, &log.ArtifactID, &log.ArtifactPath, &log.TrainRows, &log.TestRows,
			&r2, &mae, &rmse, &log.DurationMS, &log.TrainedAt); err != nil {
			return nil, err
		}
		log.R2, log.MAE, log.RMSE = r2.Float64, mae.Float64, rmse.Float64
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	RequestID  string    `json:"request_id"`
	ArtifactID string    `json:"artifact_id"`
	Score      float64   `json:"score"`
	Cached     bool      `json:"cached"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) SavePrediction(requestID string, p ml.Prediction) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	_, err := s.db.Exec(`
        INSERT INTO predictions (request_id, artifact_id, score, cached, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, requestID, p.ArtifactID, p.Score, p.Cached, time.Now().UTC())
	return err
}

// RecentPredictions returns the latest predictions, newest first.
func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
        SELECT request_id, artifact_id, score, cached, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var rec PredictionRecord
		var requestID sql.NullString
		if err := rows.Scan(&requestID, &rec.ArtifactID, &rec.Score, &rec.Cached, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RequestID = requestID.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
