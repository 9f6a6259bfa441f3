package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

const (
	// BaseWidth ширина кадра, для которой подобраны размеры разметки.
	BaseWidth = 1280.0
	// DefaultConfidenceThreshold порог уверенности по умолчанию.
	DefaultConfidenceThreshold = 0.5

	minFontScale    = 0.4
	minBoxThickness = 2
	// fontPixels высота шрифта в пикселях при fontScale 1.0.
	fontPixels = 28.0
)

// AggregatorConfig правила фильтрации и отрисовки.
type AggregatorConfig struct {
	ConfidenceThreshold float64
	ClassNames          map[int]string         // имена классов модели по индексу
	ClassRenames        map[string]string      // имя модели -> семантический класс
	IgnoredClasses      map[string]bool        // имена модели, которые отбрасываются
	ClassColors         map[string]color.Color // цвет рамки по семантическому классу
	DefaultColor        color.Color
	TextColor           color.Color
	KnownClasses        []string // классы с нулём в подсчёте
	BaseWidth           float64
}

// DefaultClassColors цвета рамок для болтов.
var DefaultClassColors = map[string]string{
	entity.ClassLoose:  "#ff8c00",
	entity.ClassFixed:  "#00ff00",
	entity.ClassNoBolt: "#ff0000",
}

// DefaultAggregatorConfig настройки модели болтов.
func DefaultAggregatorConfig() AggregatorConfig {
	colors, err := ParseClassColors(DefaultClassColors)
	if err != nil {
		panic(err)
	}
	return AggregatorConfig{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ClassRenames: map[string]string{
			"loose_bolt": entity.ClassLoose,
			"fixed_bolt": entity.ClassFixed,
			"no_bolt":    entity.ClassNoBolt,
		},
		IgnoredClasses: map[string]bool{"hub": true},
		ClassColors:    colors,
		DefaultColor:   color.White,
		TextColor:      color.Black,
		KnownClasses:   entity.KnownClasses,
		BaseWidth:      BaseWidth,
	}
}

// ParseClassColors разбирает цвета вида "#rrggbb".
func ParseClassColors(hex map[string]string) (map[string]color.Color, error) {
	out := make(map[string]color.Color, len(hex))
	for class, value := range hex {
		c, err := colorful.Hex(value)
		if err != nil {
			return nil, errors.Wrapf(entity.ErrInvalidConfig, "color for %q: %v", class, err)
		}
		r, g, b := c.RGB255()
		out[class] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out, nil
}

// Validate проверяет обязательные поля.
func (c AggregatorConfig) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Wrapf(entity.ErrInvalidConfig, "confidence threshold %v is outside [0,1]", c.ConfidenceThreshold)
	}
	if c.DefaultColor == nil {
		return errors.Wrap(entity.ErrInvalidConfig, "default color is required")
	}
	if c.TextColor == nil {
		return errors.Wrap(entity.ErrInvalidConfig, "text color is required")
	}
	if !(c.BaseWidth > 0) {
		return errors.Wrapf(entity.ErrInvalidConfig, "base width %v must be positive", c.BaseWidth)
	}
	return nil
}

// Aggregator фильтрует детекции, считает классы и рисует разметку.
type Aggregator struct {
	cfg    AggregatorConfig
	logger *zap.SugaredLogger
}

// NewAggregator проверяет конфигурацию и создаёт агрегатор.
func NewAggregator(cfg AggregatorConfig, logger *zap.SugaredLogger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Aggregator{cfg: cfg, logger: logger}, nil
}

// Scale размеры разметки для ширины кадра.
type Scale struct {
	FontScale    float64
	BoxThickness int
}

// ScaleFor масштабирует шрифт и толщину рамки от базовой ширины.
func ScaleFor(width int, base float64) Scale {
	k := float64(width) / base
	return Scale{
		FontScale:    math.Round(math.Max(minFontScale, 0.8*k)*100) / 100,
		BoxThickness: maxInt(minBoxThickness, int(3*k)),
	}
}

// Aggregate обрабатывает детекции строго в переданном порядке:
// уверенность, игнорируемые классы, переименование, подсчёт, отрисовка.
// Рисует прямо на frame и возвращает его же.
func (a *Aggregator) Aggregate(frame *image.RGBA, detections []entity.Detection) (*image.RGBA, entity.ClassCounts) {
	counts := entity.NewClassCounts(a.cfg.KnownClasses...)

	var dc *gg.Context
	var scale Scale
	if frame != nil && !frame.Bounds().Empty() {
		dc = gg.NewContextForRGBA(frame)
		scale = ScaleFor(frame.Bounds().Dx(), a.cfg.BaseWidth)
		dc.SetFontFace(truetype.NewFace(labelFont(), &truetype.Options{Size: scale.FontScale * fontPixels}))
	}

	for i, d := range detections {
		if d.Malformed() {
			a.logger.Debugw("skipping malformed detection", "index", i, "class", d.Class, "box", d.Box)
			continue
		}
		if d.Confidence < a.cfg.ConfidenceThreshold {
			continue
		}

		raw, ok := a.rawName(d)
		if !ok {
			a.logger.Debugw("skipping detection without class name", "index", i, "class", d.Label())
			continue
		}
		if a.cfg.IgnoredClasses[raw] {
			continue
		}

		name := raw
		if renamed, ok := a.cfg.ClassRenames[raw]; ok {
			name = renamed
		}
		counts.Inc(name)

		if dc != nil {
			a.draw(dc, d.Box, a.colorFor(name, raw), fmt.Sprintf("%s %.2f", name, d.Confidence), scale)
		}
	}

	return frame, counts
}

// rawName имя класса модели: из детекции или по индексу из ClassNames.
func (a *Aggregator) rawName(d entity.Detection) (string, bool) {
	if d.Class != "" {
		return d.Class, true
	}
	name, ok := a.cfg.ClassNames[d.ClassID]
	return name, ok && name != ""
}

func (a *Aggregator) colorFor(name, raw string) color.Color {
	if c, ok := a.cfg.ClassColors[name]; ok {
		return c
	}
	if c, ok := a.cfg.ClassColors[raw]; ok {
		return c
	}
	return a.cfg.DefaultColor
}

// draw рамка, залитая подложка и подпись над рамкой.
func (a *Aggregator) draw(dc *gg.Context, box entity.BoundingBox, c color.Color, label string, scale Scale) {
	dc.SetColor(c)
	dc.SetLineWidth(float64(scale.BoxThickness))
	dc.DrawRectangle(float64(box.X1), float64(box.Y1), float64(box.Width()), float64(box.Height()))
	dc.Stroke()

	textW, textH := dc.MeasureString(label)
	bgW, bgH := textW+4, textH+10

	left, top := labelOrigin(box, bgW, bgH, float64(dc.Width()))

	dc.SetColor(c)
	dc.DrawRectangle(left, top, bgW, bgH)
	dc.Fill()

	dc.SetColor(a.cfg.TextColor)
	dc.DrawString(label, left+2, top+textH+5)
}

// labelOrigin левый верхний угол подложки: над рамкой, но внутри кадра.
func labelOrigin(box entity.BoundingBox, bgW, bgH, frameW float64) (left, top float64) {
	left = float64(box.X1)
	top = float64(box.Y1) - bgH
	if top < 0 {
		top = 0
	}
	if left+bgW > frameW {
		left = frameW - bgW
	}
	if left < 0 {
		left = 0
	}
	return left, top
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ port.Aggregator = (*Aggregator)(nil)
