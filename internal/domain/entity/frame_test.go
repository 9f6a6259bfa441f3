package entity

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameClone_DoesNotAlias(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	f := Frame{Image: src, Seq: 7}

	c := f.Clone()
	src.Pix[0] = 255

	require.Equal(t, uint8(0), c.Image.Pix[0])
	require.Equal(t, uint64(7), c.Seq)
	require.Equal(t, 4, c.Width())
	require.Equal(t, 4, c.Height())
}

func TestFrame_Empty(t *testing.T) {
	require.True(t, Frame{}.Empty())
	require.Nil(t, CloneRGBA(nil))
	require.False(t, Frame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1))}.Empty())
}

func TestDetection_Malformed(t *testing.T) {
	ok := Detection{Class: "fixed_bolt", Confidence: 0.9, Box: BoundingBox{1, 1, 5, 5}}
	require.False(t, ok.Malformed())

	inverted := ok
	inverted.Box = BoundingBox{5, 5, 1, 1}
	require.True(t, inverted.Malformed())

	require.Equal(t, "class_3", Detection{ClassID: 3}.Label())
}

func TestValidateVIN(t *testing.T) {
	require.NoError(t, ValidateVIN("MA3EWDE1S00123456"))
	require.ErrorIs(t, ValidateVIN(""), ErrInvalidVIN)
	require.ErrorIs(t, ValidateVIN("../etc"), ErrInvalidVIN)
	require.ErrorIs(t, ValidateVIN(`a\b`), ErrInvalidVIN)
}

func TestClassCounts(t *testing.T) {
	c := NewClassCounts(KnownClasses...)
	c.Inc(ClassFixed)
	c.Inc(ClassFixed)
	c.Inc("washer")

	require.Equal(t, 2, c.Get(ClassFixed))
	require.Equal(t, 0, c.Get(ClassNoBolt))
	require.Equal(t, 3, c.Total())
	require.Equal(t, []string{"fixed", "loose", "no_bolt", "washer"}, c.Classes())
}

func TestToRGBA_ConvertsAndCopies(t *testing.T) {
	gray := image.NewGray(image.Rect(2, 2, 6, 5))
	gray.Pix[0] = 200

	out := ToRGBA(gray)
	require.Equal(t, image.Rect(0, 0, 4, 3), out.Bounds())
	require.Equal(t, uint8(200), out.Pix[0])
	require.Equal(t, uint8(255), out.Pix[3])

	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	cp := ToRGBA(src)
	src.Pix[0] = 9
	require.Equal(t, uint8(0), cp.Pix[0])
	require.Nil(t, ToRGBA(nil))
}
