package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Journal история проверок в SQLite. Только вставка: изменения и удаления
// запрещены триггерами.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// OpenJournal открывает базу и накатывает миграции.
func OpenJournal(ctx context.Context, path string, logger *zap.SugaredLogger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate journal")
	}

	return &Journal{db: db, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// gooseLogger пишет сообщения миграций в zap.
type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.Debugf(format, v...)
}

// Name имя журнала.
func (j *Journal) Name() string { return "journal" }

// Record добавляет проверку. Повторная запись той же проверки - ошибка.
func (j *Journal) Record(ctx context.Context, insp *entity.Inspection) error {
	counts, err := json.Marshal(insp.Counts)
	if err != nil {
		return errors.Wrap(err, "encode counts")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO inspections (id, vin, model, loose_bolts, fixed_bolts, no_bolts, counts, status,
			captured_path, detected_path, captured_at, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, insp.ID, insp.VIN, insp.Model,
		insp.Counts.Get(entity.ClassLoose), insp.Counts.Get(entity.ClassFixed), insp.Counts.Get(entity.ClassNoBolt),
		string(counts), string(insp.Verdict), insp.CapturedPath, insp.DetectedPath,
		insp.CapturedAt.UTC().Format(time.RFC3339Nano), insp.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "insert inspection")
	}
	return nil
}

// List возвращает последние проверки, новые первыми. Пустой vin - все.
func (j *Journal) List(ctx context.Context, vin string, limit int) ([]entity.Inspection, error) {
	if limit <= 0 {
		limit = 50
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, vin, model, counts, status, captured_path, detected_path, captured_at, detected_at
		FROM inspections
		WHERE (? = '' OR vin = ?)
		ORDER BY detected_at DESC, rowid DESC
		LIMIT ?
	`, vin, vin, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query inspections")
	}
	defer rows.Close()

	var out []entity.Inspection
	for rows.Next() {
		var (
			insp                   entity.Inspection
			counts, status         string
			capturedAt, detectedAt string
		)
		if err := rows.Scan(&insp.ID, &insp.VIN, &insp.Model, &counts, &status,
			&insp.CapturedPath, &insp.DetectedPath, &capturedAt, &detectedAt); err != nil {
			return nil, errors.Wrap(err, "scan inspection")
		}
		if err := json.Unmarshal([]byte(counts), &insp.Counts); err != nil {
			return nil, errors.Wrapf(err, "decode counts of %s", insp.ID)
		}
		insp.Verdict = entity.Verdict(status)
		if insp.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt); err != nil {
			return nil, errors.Wrapf(err, "parse captured_at of %s", insp.ID)
		}
		if insp.DetectedAt, err = time.Parse(time.RFC3339Nano, detectedAt); err != nil {
			return nil, errors.Wrapf(err, "parse detected_at of %s", insp.ID)
		}
		out = append(out, insp)
	}
	return out, rows.Err()
}

// Close закрывает базу.
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ port.InspectionSink = (*Journal)(nil)
