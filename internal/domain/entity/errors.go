package entity

import "github.com/pkg/errors"

var (
	// ErrDeviceOpen камера занята или отсутствует.
	ErrDeviceOpen = errors.New("capture device cannot be opened")
	// ErrNotInitialized снимок запрошен до Start.
	ErrNotInitialized = errors.New("frame source is not initialized")
	// ErrCaptureTimeout кадр не пришёл за отведённое время.
	ErrCaptureTimeout = errors.New("no frame captured within timeout")
	// ErrNoFrame устройство пока не отдало кадр.
	ErrNoFrame = errors.New("no frame available")
	// ErrInvalidConfig некорректная конфигурация агрегатора.
	ErrInvalidConfig = errors.New("invalid aggregator config")
	// ErrAlreadyLogged инспекция уже завершена и записана.
	ErrAlreadyLogged = errors.New("inspection already logged")
	// ErrInvalidVIN пустой VIN или VIN с разделителями пути.
	ErrInvalidVIN = errors.New("invalid VIN")
)
