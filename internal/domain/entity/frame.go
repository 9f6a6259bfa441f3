package entity

import (
	"image"
	"image/draw"
)

// Frame один кадр с камеры.
type Frame struct {
	Image *image.RGBA // растровое изображение 8 бит на канал
	Seq   uint64      // порядковый номер кадра в цикле захвата
}

// Width возвращает ширину кадра в пикселях
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height возвращает высоту кадра в пикселях
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Empty сообщает, что в кадре нет изображения.
func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}

// Clone делает глубокую копию кадра, буфер пикселей не разделяется.
func (f Frame) Clone() Frame {
	return Frame{Image: CloneRGBA(f.Image), Seq: f.Seq}
}

// CloneRGBA копирует буфер пикселей.
func CloneRGBA(img *image.RGBA) *image.RGBA {
	if img == nil {
		return nil
	}
	out := &image.RGBA{
		Pix:    make([]uint8, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}

// ToRGBA всегда возвращает новый *image.RGBA с содержимым img.
func ToRGBA(img image.Image) *image.RGBA {
	if img == nil {
		return nil
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return CloneRGBA(rgba)
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
