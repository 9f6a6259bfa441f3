package entity

import (
	"fmt"
	"math"
)

// BoundingBox прямоугольник объекта в пикселях (x1,y1 - левый верхний угол).
type BoundingBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Valid проверяет, что x1<x2 и y1<y2.
func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Width возвращает ширину прямоугольника
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height возвращает высоту прямоугольника
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Detection один результат модели детекции.
type Detection struct {
	ClassID    int         // индекс класса в модели
	Class      string      // имя класса в модели, может быть пустым
	Confidence float64     // уверенность 0..1, NaN если модель её не вернула
	Box        BoundingBox // рамка объекта
}

// Malformed сообщает, что детекцию нельзя учитывать.
func (d Detection) Malformed() bool {
	return math.IsNaN(d.Confidence) || !d.Box.Valid()
}

// Label возвращает имя класса или class_<id>, если имя неизвестно.
func (d Detection) Label() string {
	if d.Class != "" {
		return d.Class
	}
	return fmt.Sprintf("class_%d", d.ClassID)
}
