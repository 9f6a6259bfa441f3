package api

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	app "bolt-vision/internal/application"
	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/infrastructure/camera"
	"bolt-vision/internal/infrastructure/storage"
	"bolt-vision/internal/infrastructure/vision"
)

type fakeMessenger struct {
	fileURL string

	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (m *fakeMessenger) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *fakeMessenger) GetFileDirectURL(fileID string) (string, error) {
	return m.fileURL + "/" + fileID, nil
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.sent {
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, v.Caption)
		}
	}
	return out
}

func (m *fakeMessenger) last() string {
	texts := m.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (m *fakeMessenger) photos() []tgbotapi.PhotoConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range m.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

type stubDetector struct {
	err error
}

func (d *stubDetector) Detect(ctx context.Context, img *image.RGBA) ([]entity.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []entity.Detection
	for i := 0; i < 4; i++ {
		out = append(out, entity.Detection{
			Class:      "fixed_bolt",
			Confidence: 0.9,
			Box:        entity.BoundingBox{X1: 5 + i*20, Y1: 30, X2: 20 + i*20, Y2: 50},
		})
	}
	return out, nil
}

type botFixture struct {
	bot       *Bot
	messenger *fakeMessenger
	detector  *stubDetector
	operators *app.OperatorService
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	photo := image.NewNRGBA(image.Rect(0, 0, 100, 80))
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		imaging.Encode(w, photo, imaging.JPEG)
	}))
	t.Cleanup(files.Close)

	still := camera.NewStill()
	source := camera.NewSource(still, camera.Options{Logger: logger})
	require.NoError(t, source.Start(context.Background()))
	t.Cleanup(func() { _ = source.Stop() })
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	still.Push(frame)

	agg, err := vision.NewAggregator(vision.DefaultAggregatorConfig(), logger)
	require.NoError(t, err)
	dir := t.TempDir()
	images, err := storage.NewImageStore(dir, dir)
	require.NoError(t, err)

	detector := &stubDetector{}
	inspections := app.NewInspectionService(source, detector, agg, images, nil, app.InspectionConfig{Logger: logger})
	operators := app.NewOperatorService(storage.NewMemoryOperatorRepository())

	messenger := &fakeMessenger{fileURL: files.URL}
	return &botFixture{
		bot:       newBot(messenger, operators, inspections, logger),
		messenger: messenger,
		detector:  detector,
		operators: operators,
	}
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 10},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func TestBot_CaptureDialogue(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, message("/capture"))
	require.Equal(t, msgNotReady, f.messenger.last())

	f.bot.handleMessage(ctx, message("/inspect"))
	require.Equal(t, msgAskVIN, f.messenger.last())

	f.bot.handleMessage(ctx, message("bad/vin"))
	require.Equal(t, msgBadVIN, f.messenger.last())

	f.bot.handleMessage(ctx, message("MA3EWDE1S00123456"))
	require.Equal(t, msgAskModel, f.messenger.last())

	f.bot.handleMessage(ctx, message("Swift"))
	require.Contains(t, f.messenger.last(), "MA3EWDE1S00123456")

	f.bot.handleMessage(ctx, message("/capture"))
	photos := f.messenger.photos()
	require.Len(t, photos, 1)
	require.Contains(t, photos[0].Caption, "OK")
	require.Contains(t, photos[0].Caption, "Затянуты: 4")

	op, err := f.operators.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateMainMenu, op.State)
}

func TestBot_InspectShortcutAndPhoto(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, message("/inspect VIN42 Swift Dzire"))
	require.Contains(t, f.messenger.last(), "Swift Dzire")

	upload := message("")
	upload.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	f.bot.handleMessage(ctx, upload)

	photos := f.messenger.photos()
	require.Len(t, photos, 1)
	require.Contains(t, photos[0].Caption, "VIN42")
}

func TestBot_DetectFailureAndRetry(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.detector.err = errors.New("model crashed")

	f.bot.handleMessage(ctx, message("/inspect VIN42 Swift"))
	f.bot.handleMessage(ctx, message("/capture"))

	last := f.messenger.last()
	require.Contains(t, last, "detect")
	require.Contains(t, last, "model crashed")
	require.Contains(t, last, "/retry")
	require.Empty(t, f.messenger.photos())

	f.detector.err = nil
	f.bot.handleMessage(ctx, message("/retry"))
	require.Len(t, f.messenger.photos(), 1)

	f.bot.handleMessage(ctx, message("/retry"))
	require.Equal(t, msgNothingToRetry, f.messenger.last())
}

func TestBot_Commands(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, message("/start"))
	require.Equal(t, msgStart, f.messenger.last())

	f.bot.handleMessage(ctx, message("/help"))
	require.Equal(t, msgHelp, f.messenger.last())

	f.bot.handleMessage(ctx, message("/inspect"))
	f.bot.handleMessage(ctx, message("/cancel"))
	require.Equal(t, msgCancelled, f.messenger.last())

	f.bot.handleMessage(ctx, message("/unknown"))
	require.Equal(t, msgUnknownCommand, f.messenger.last())

	f.bot.handleMessage(ctx, message("hello"))
	require.Equal(t, msgNotReady, f.messenger.last())
}

func TestFormatResult(t *testing.T) {
	insp := &entity.Inspection{
		VIN:     "VIN1",
		Model:   "Swift",
		Verdict: entity.VerdictNotOK,
		Counts:  entity.ClassCounts{entity.ClassFixed: 3, entity.ClassLoose: 1},
	}
	text := FormatResult(insp)
	require.True(t, strings.HasPrefix(text, "❌ NOT OK"))
	require.Contains(t, text, "Ослаблены: 1")
	require.Contains(t, text, "Отсутствуют: 0")
}
