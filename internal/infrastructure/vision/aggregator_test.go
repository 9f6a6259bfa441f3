package vision

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"bolt-vision/internal/domain/entity"
)

func det(class string, conf float64) entity.Detection {
	return entity.Detection{Class: class, Confidence: conf, Box: entity.BoundingBox{X1: 20, Y1: 40, X2: 80, Y2: 90}}
}

func blackFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(DefaultAggregatorConfig(), nil)
	require.NoError(t, err)
	return agg
}

func TestAggregate_DropsLowConfidence(t *testing.T) {
	agg := newTestAggregator(t)

	_, counts := agg.Aggregate(blackFrame(100, 100), []entity.Detection{
		det("fixed", 0.9),
		det("fixed", 0.3),
		det("loose", 0.6),
	})

	require.Equal(t, 1, counts.Get(entity.ClassFixed))
	require.Equal(t, 1, counts.Get(entity.ClassLoose))
	require.Equal(t, 2, counts.Total())
}

func TestAggregate_RemapAndIgnore(t *testing.T) {
	agg := newTestAggregator(t)

	_, counts := agg.Aggregate(blackFrame(100, 100), []entity.Detection{
		det("hub", 0.9),
		det("fixed_bolt", 0.95),
	})

	require.Equal(t, 1, counts.Get(entity.ClassFixed))
	require.NotContains(t, counts, "hub")
	require.NotContains(t, counts, "fixed_bolt")
	require.Equal(t, 1, counts.Total())
}

func TestAggregate_EmptyInput(t *testing.T) {
	agg := newTestAggregator(t)

	frame := blackFrame(50, 50)
	before := append([]uint8(nil), frame.Pix...)

	out, counts := agg.Aggregate(frame, nil)
	require.Equal(t, 0, counts.Total())
	require.ElementsMatch(t, entity.KnownClasses, counts.Classes())
	require.Equal(t, before, out.Pix)
}

func TestAggregate_ThresholdIsInclusive(t *testing.T) {
	agg := newTestAggregator(t)

	_, counts := agg.Aggregate(blackFrame(100, 100), []entity.Detection{det("fixed_bolt", 0.5)})
	require.Equal(t, 1, counts.Get(entity.ClassFixed))
}

func TestAggregate_UnmappedClassPassesThrough(t *testing.T) {
	agg := newTestAggregator(t)

	_, counts := agg.Aggregate(blackFrame(100, 100), []entity.Detection{det("washer", 0.8)})
	require.Equal(t, 1, counts.Get("washer"))
}

func TestAggregate_SkipsMalformed(t *testing.T) {
	agg := newTestAggregator(t)

	inverted := det("fixed_bolt", 0.9)
	inverted.Box = entity.BoundingBox{X1: 50, Y1: 50, X2: 10, Y2: 10}

	_, counts := agg.Aggregate(blackFrame(100, 100), []entity.Detection{
		det("fixed_bolt", math.NaN()),
		inverted,
		det("fixed_bolt", 0.9),
	})
	require.Equal(t, 1, counts.Get(entity.ClassFixed))
}

func TestAggregate_ClassNameFromIndex(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cfg.ClassNames = ClassNameMap(DefaultClassNames)
	agg, err := NewAggregator(cfg, nil)
	require.NoError(t, err)

	d := det("", 0.9)
	d.ClassID = 2
	hub := det("", 0.9)
	hub.ClassID = 0

	_, counts := agg.Aggregate(blackFrame(100, 100), []entity.Detection{d, hub})
	require.Equal(t, 1, counts.Get(entity.ClassFixed))
	require.Equal(t, 1, counts.Total())
}

func TestAggregate_SkipsUnnamedClass(t *testing.T) {
	agg := newTestAggregator(t)

	frame := blackFrame(100, 100)
	before := append([]uint8(nil), frame.Pix...)

	unnamed := det("", 0.9)
	unnamed.ClassID = 9

	out, counts := agg.Aggregate(frame, []entity.Detection{unnamed})
	require.Equal(t, 0, counts.Total())
	require.NotContains(t, counts, "class_9")
	require.ElementsMatch(t, entity.KnownClasses, counts.Classes())
	require.Equal(t, before, out.Pix)

	// Индекс вне ClassNames тоже пропускается.
	cfg := DefaultAggregatorConfig()
	cfg.ClassNames = ClassNameMap(DefaultClassNames)
	named, err := NewAggregator(cfg, nil)
	require.NoError(t, err)

	_, counts = named.Aggregate(blackFrame(100, 100), []entity.Detection{unnamed})
	require.Equal(t, 0, counts.Total())
}

func TestAggregate_DrawsInPlace(t *testing.T) {
	agg := newTestAggregator(t)

	frame := blackFrame(100, 100)
	out, _ := agg.Aggregate(frame, []entity.Detection{det("fixed_bolt", 0.9)})

	require.Same(t, frame, out)

	// левая сторона рамки далеко от подписи
	c := out.RGBAAt(20, 65)
	require.Greater(t, c.G, uint8(200))
	require.Less(t, c.R, uint8(60))
	require.Less(t, c.B, uint8(60))

	// внутри рамки кадр не тронут
	require.Equal(t, color.RGBA{A: 255}, out.RGBAAt(50, 70))
}

func TestAggregate_IsDeterministic(t *testing.T) {
	agg := newTestAggregator(t)
	dets := []entity.Detection{
		det("fixed_bolt", 0.91),
		{Class: "loose_bolt", Confidence: 0.77, Box: entity.BoundingBox{X1: 0, Y1: 0, X2: 30, Y2: 20}},
		{Class: "no_bolt", Confidence: 0.66, Box: entity.BoundingBox{X1: 60, Y1: 5, X2: 99, Y2: 40}},
	}

	a, countsA := agg.Aggregate(blackFrame(120, 100), dets)
	b, countsB := agg.Aggregate(blackFrame(120, 100), dets)

	require.Equal(t, countsA, countsB)
	require.Equal(t, a.Pix, b.Pix)
	require.NotEqual(t, blackFrame(120, 100).Pix, a.Pix)
}

func TestAggregate_NilFrameStillCounts(t *testing.T) {
	agg := newTestAggregator(t)

	out, counts := agg.Aggregate(nil, []entity.Detection{det("fixed_bolt", 0.9)})
	require.Nil(t, out)
	require.Equal(t, 1, counts.Get(entity.ClassFixed))
}

func TestScaleFor(t *testing.T) {
	tests := []struct {
		width     int
		font      float64
		thickness int
	}{
		{1280, 0.8, 3},
		{640, 0.4, 2},
		{2560, 1.6, 6},
		{100, 0.4, 2},
		{1920, 1.2, 4},
	}
	for _, tt := range tests {
		s := ScaleFor(tt.width, BaseWidth)
		require.InDelta(t, tt.font, s.FontScale, 1e-9, "width %d", tt.width)
		require.Equal(t, tt.thickness, s.BoxThickness, "width %d", tt.width)
	}
}

func TestLabelOrigin_ClampsInsideFrame(t *testing.T) {
	left, top := labelOrigin(entity.BoundingBox{X1: 10, Y1: 50, X2: 40, Y2: 90}, 30, 20, 100)
	require.Equal(t, 10.0, left)
	require.Equal(t, 30.0, top)

	left, top = labelOrigin(entity.BoundingBox{X1: 10, Y1: 3, X2: 40, Y2: 90}, 30, 20, 100)
	require.Equal(t, 10.0, left)
	require.Equal(t, 0.0, top)

	left, _ = labelOrigin(entity.BoundingBox{X1: 90, Y1: 50, X2: 99, Y2: 90}, 30, 20, 100)
	require.Equal(t, 70.0, left)

	left, _ = labelOrigin(entity.BoundingBox{X1: 5, Y1: 50, X2: 9, Y2: 90}, 300, 20, 100)
	require.Equal(t, 0.0, left)
}

func TestNewAggregator_InvalidConfig(t *testing.T) {
	bad := []func(*AggregatorConfig){
		func(c *AggregatorConfig) { c.ConfidenceThreshold = 1.5 },
		func(c *AggregatorConfig) { c.ConfidenceThreshold = -0.1 },
		func(c *AggregatorConfig) { c.ConfidenceThreshold = math.NaN() },
		func(c *AggregatorConfig) { c.DefaultColor = nil },
		func(c *AggregatorConfig) { c.TextColor = nil },
		func(c *AggregatorConfig) { c.BaseWidth = 0 },
	}
	for i, mutate := range bad {
		cfg := DefaultAggregatorConfig()
		mutate(&cfg)
		_, err := NewAggregator(cfg, nil)
		require.ErrorIs(t, err, entity.ErrInvalidConfig, "case %d", i)
	}
}

func TestParseClassColors(t *testing.T) {
	colors, err := ParseClassColors(map[string]string{"fixed": "#00ff00"})
	require.NoError(t, err)
	require.Equal(t, color.RGBA{G: 255, A: 255}, colors["fixed"])

	_, err = ParseClassColors(map[string]string{"fixed": "green"})
	require.ErrorIs(t, err, entity.ErrInvalidConfig)
}

func TestParseClassNames(t *testing.T) {
	require.Equal(t, DefaultClassNames, ParseClassNames(""))
	require.Equal(t, []string{"a", "b"}, ParseClassNames(" a, b "))
	require.Equal(t, "b", ClassNameMap([]string{"a", "b"})[1])
}
