package storage

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

const (
	// ResultsSheet лист с результатами проверок.
	ResultsSheet = "Results"
	// WorkbookTimeLayout формат столбца Timestamp.
	WorkbookTimeLayout = "2006-01-02 15:04:05"

	thumbnailSize  = 120
	rowHeight      = 100
	imageColWidth  = 35
	minColWidth    = 12
	imageColumn    = "I"
	lastTextColumn = 8
)

// WorkbookHeader заголовок листа Results.
var WorkbookHeader = []interface{}{
	"S.No", "VIN number", "Model", "Loose Bolts", "Fixed Bolts", "No Bolts",
	"poke_yoke_status", "Timestamp", "Image",
}

// Workbook журнал проверок в xlsx. Каждая запись дописывает строку
// с миниатюрой размеченного кадра.
type Workbook struct {
	path     string
	location *time.Location
	logger   *zap.SugaredLogger
	mu       sync.Mutex
}

// NewWorkbook создаёт книгу с заголовком, если файла ещё нет.
func NewWorkbook(path string, location *time.Location, logger *zap.SugaredLogger) (*Workbook, error) {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &Workbook{path: path, location: location, logger: logger}

	f, err := w.open()
	if err != nil {
		return nil, err
	}
	if err := f.SaveAs(path); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "save workbook %s", path)
	}
	return w, f.Close()
}

// Name имя журнала.
func (w *Workbook) Name() string { return "spreadsheet" }

// Record дописывает строку проверки.
func (w *Workbook) Record(ctx context.Context, insp *entity.Inspection) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	rows, err := f.GetRows(ResultsSheet)
	if err != nil {
		return errors.Wrap(err, "read rows")
	}
	row := len(rows) + 1
	serial := len(rows)

	values := []interface{}{
		serial,
		insp.VIN,
		insp.Model,
		insp.Counts.Get(entity.ClassLoose),
		insp.Counts.Get(entity.ClassFixed),
		insp.Counts.Get(entity.ClassNoBolt),
		string(insp.Verdict),
		insp.DetectedAt.In(w.location).Format(WorkbookTimeLayout),
	}
	start, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(ResultsSheet, start, &values); err != nil {
		return errors.Wrap(err, "write row")
	}

	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return errors.Wrap(err, "create style")
	}
	end, _ := excelize.CoordinatesToCellName(len(WorkbookHeader), row)
	if err := f.SetCellStyle(ResultsSheet, start, end, style); err != nil {
		return errors.Wrap(err, "style row")
	}
	if err := f.SetRowHeight(ResultsSheet, row, rowHeight); err != nil {
		return errors.Wrap(err, "row height")
	}

	if thumb, err := thumbnail(insp.DetectedPath); err != nil {
		// Строка важнее картинки.
		w.logger.Warnw("thumbnail skipped", "path", insp.DetectedPath, "error", err)
	} else {
		cell, _ := excelize.CoordinatesToCellName(len(WorkbookHeader), row)
		if err := f.AddPictureFromBytes(ResultsSheet, cell, &excelize.Picture{
			Extension: ".jpg",
			File:      thumb,
			Format:    &excelize.GraphicOptions{AltText: insp.VIN, OffsetX: 5, OffsetY: 5},
		}); err != nil {
			return errors.Wrap(err, "embed thumbnail")
		}
	}

	if err := w.fitColumns(f, append(rows, toStrings(values))); err != nil {
		return err
	}

	if err := f.SaveAs(w.path); err != nil {
		return errors.Wrapf(err, "save workbook %s", w.path)
	}
	w.logger.Debugw("inspection written to workbook", "vin", insp.VIN, "row", row)
	return nil
}

// open открывает существующую книгу или создаёт новую с заголовком.
func (w *Workbook) open() (*excelize.File, error) {
	if _, err := os.Stat(w.path); err == nil {
		f, err := excelize.OpenFile(w.path)
		if err != nil {
			return nil, errors.Wrapf(err, "open workbook %s", w.path)
		}
		if idx, err := f.GetSheetIndex(ResultsSheet); err == nil && idx >= 0 {
			return f, nil
		}
		if _, err := f.NewSheet(ResultsSheet); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "create results sheet")
		}
		return f, w.writeHeader(f)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "rename sheet")
	}
	if err := w.writeHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (w *Workbook) writeHeader(f *excelize.File) error {
	header := WorkbookHeader
	if err := f.SetSheetRow(ResultsSheet, "A1", &header); err != nil {
		return errors.Wrap(err, "write header")
	}
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return errors.Wrap(err, "create header style")
	}
	if err := f.SetCellStyle(ResultsSheet, "A1", "I1", style); err != nil {
		return errors.Wrap(err, "style header")
	}
	if err := f.SetColWidth(ResultsSheet, imageColumn, imageColumn, imageColWidth); err != nil {
		return errors.Wrap(err, "image column width")
	}
	return nil
}

// fitColumns ширина A..H по самому длинному значению, не меньше minColWidth.
func (w *Workbook) fitColumns(f *excelize.File, rows [][]string) error {
	for col := 1; col <= lastTextColumn; col++ {
		width := minColWidth
		for _, row := range rows {
			if col-1 < len(row) && len(row[col-1])+2 > width {
				width = len(row[col-1]) + 2
			}
		}
		name, _ := excelize.ColumnNumberToName(col)
		if err := f.SetColWidth(ResultsSheet, name, name, float64(width)); err != nil {
			return errors.Wrapf(err, "column %s width", name)
		}
	}
	return f.SetColWidth(ResultsSheet, imageColumn, imageColumn, imageColWidth)
}

// thumbnail JPEG-миниатюра не больше thumbnailSize по каждой стороне.
func thumbnail(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("no detected image")
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos), imaging.JPEG); err != nil {
		return nil, errors.Wrap(err, "encode thumbnail")
	}
	return buf.Bytes(), nil
}

func toStrings(values []interface{}) []string {
	out := make([]string, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case string:
			out[i] = t
		case int:
			out[i] = strconv.Itoa(t)
		}
	}
	return out
}

var _ port.InspectionSink = (*Workbook)(nil)
