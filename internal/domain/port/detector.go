package port

import (
	"context"
	"image"

	"bolt-vision/internal/domain/entity"
)

// Detector модель детекции болтов
type Detector interface {
	// Detect возвращает сырые детекции модели для кадра
	Detect(ctx context.Context, img *image.RGBA) ([]entity.Detection, error)
}

// Aggregator превращает сырые детекции в подсчёт и размеченный кадр
type Aggregator interface {
	// Aggregate рисует разметку прямо на frame и возвращает подсчёт по классам
	Aggregate(frame *image.RGBA, detections []entity.Detection) (*image.RGBA, entity.ClassCounts)
}
