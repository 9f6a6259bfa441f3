package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	app "bolt-vision/internal/application"
	"bolt-vision/internal/domain/entity"
)

const (
	msgStart = `👋 Привет! Я бот станции контроля болтов.

📋 Команды:
/inspect — начать проверку узла
/help — справка
/cancel — отменить текущую операцию`

	msgHelp = `ℹ️ Как провести проверку:

1️⃣ /inspect
2️⃣ Введите VIN автомобиля
3️⃣ Введите модель
4️⃣ /capture — снимок со станционной камеры, или отправьте фото узла

Вы получите размеченное фото, подсчёт болтов и вердикт OK / NOT OK.

📋 Команды:
/inspect — начать проверку
/retry — повторить детекцию после ошибки
/cancel — отменить операцию`

	msgAskVIN         = "🔢 Введите VIN автомобиля."
	msgBadVIN         = "⚠️ Некорректный VIN. Введите VIN без пробелов и символов / и \\."
	msgAskModel       = "🚗 Введите модель автомобиля."
	msgReady          = "📸 VIN %s, модель %s. Отправьте /capture или фото узла."
	msgNotReady       = "❓ Сначала начните проверку: /inspect"
	msgCancelled      = "❌ Операция отменена. Отправьте /inspect для новой проверки."
	msgUnknownCommand = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing     = "⏳ Обрабатываю изображение..."
	msgBusy           = "⏳ Предыдущая проверка ещё выполняется."
	msgNothingToRetry = "❓ Нет проверки для повтора."
	msgStageFailed    = "⚠️ Ошибка на шаге %s: %v"
	msgRetryCapture   = "Повторите /capture или отправьте фото."
	msgRetryDetect    = "Повторите детекцию: /retry"
	msgLogFailed      = "⚠️ Результат получен, но не записан полностью (шаг log): %v"
)

// messenger часть BotAPI, нужная обработчикам.
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot операторский интерфейс станции в Telegram.
type Bot struct {
	api         messenger
	client      *tgbotapi.BotAPI
	operators   *app.OperatorService
	inspections *app.InspectionService
	http        *http.Client
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	pending map[int64]*entity.Inspection // снятые, но не обработанные из-за ошибки детекции
}

// NewBot авторизуется в Telegram.
func NewBot(token string, operators *app.OperatorService, inspections *app.InspectionService, logger *zap.SugaredLogger) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram auth")
	}

	b := newBot(client, operators, inspections, logger)
	b.client = client
	b.logger.Infow("authorized", "account", client.Self.UserName)
	return b, nil
}

func newBot(api messenger, operators *app.OperatorService, inspections *app.InspectionService, logger *zap.SugaredLogger) *Bot {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bot{
		api:         api,
		operators:   operators,
		inspections: inspections,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		pending:     make(map[int64]*entity.Inspection),
	}
}

// Run основной цикл обработки сообщений до отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.client.GetUpdatesChan(u)
	defer b.client.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	op, err := b.operators.Get(ctx, msg.From.ID, msg.Chat.ID)
	if err != nil {
		b.logger.Errorw("operator lookup failed", "user", msg.From.ID, "error", err)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, op)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg, op)
		return
	}

	b.handleText(ctx, msg, op)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, op *entity.Operator) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.dropPending(op.ID)
		b.operators.Cancel(ctx, op.ID, chatID)
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, msgHelp)

	case "inspect":
		b.dropPending(op.ID)
		op, err := b.operators.BeginInspection(ctx, op.ID, chatID)
		if err != nil {
			b.logger.Errorw("begin inspection failed", "user", msg.From.ID, "error", err)
			return
		}
		// /inspect VIN MODEL сразу переводит к съёмке.
		if args := strings.Fields(msg.CommandArguments()); len(args) >= 2 {
			if _, err := b.operators.SubmitVIN(ctx, op.ID, chatID, args[0]); err != nil {
				b.sendMessage(chatID, msgBadVIN)
				return
			}
			op, err = b.operators.SubmitModel(ctx, op.ID, chatID, strings.Join(args[1:], " "))
			if err != nil {
				b.logger.Errorw("submit model failed", "user", msg.From.ID, "error", err)
				return
			}
			b.sendMessage(chatID, fmt.Sprintf(msgReady, op.VIN, op.Model))
			return
		}
		b.sendMessage(chatID, msgAskVIN)

	case "capture":
		if op.State == entity.StateProcessing {
			b.sendMessage(chatID, msgBusy)
			return
		}
		if op.State != entity.StateReady {
			b.sendMessage(chatID, msgNotReady)
			return
		}
		b.process(ctx, op, chatID, func() (*entity.Inspection, error) {
			return b.inspections.Capture(ctx, op.VIN, op.Model)
		})

	case "retry":
		insp := b.takePending(op.ID)
		if insp == nil {
			b.sendMessage(chatID, msgNothingToRetry)
			return
		}
		b.process(ctx, op, chatID, func() (*entity.Inspection, error) {
			return insp, nil
		})

	case "cancel":
		b.dropPending(op.ID)
		b.operators.Cancel(ctx, op.ID, chatID)
		b.sendMessage(chatID, msgCancelled)

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

// handleText ввод VIN и модели.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message, op *entity.Operator) {
	chatID := msg.Chat.ID

	switch op.State {
	case entity.StateAwaitingVIN:
		if _, err := b.operators.SubmitVIN(ctx, op.ID, chatID, msg.Text); err != nil {
			b.sendMessage(chatID, msgBadVIN)
			return
		}
		b.sendMessage(chatID, msgAskModel)

	case entity.StateAwaitingModel:
		op, err := b.operators.SubmitModel(ctx, op.ID, chatID, msg.Text)
		if err != nil {
			b.logger.Errorw("submit model failed", "user", msg.From.ID, "error", err)
			return
		}
		b.sendMessage(chatID, fmt.Sprintf(msgReady, op.VIN, op.Model))

	case entity.StateReady:
		b.sendMessage(chatID, fmt.Sprintf(msgReady, op.VIN, op.Model))

	default:
		b.sendMessage(chatID, msgNotReady)
	}
}

// handlePhoto фото узла вместо снимка со станционной камеры.
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, op *entity.Operator) {
	chatID := msg.Chat.ID
	if op.State != entity.StateReady {
		b.sendMessage(chatID, msgNotReady)
		return
	}

	// Файл с максимальным разрешением
	photo := msg.Photo[len(msg.Photo)-1]

	b.process(ctx, op, chatID, func() (*entity.Inspection, error) {
		data, err := b.downloadFile(ctx, photo.FileID)
		if err != nil {
			return nil, &app.StageError{Stage: app.StageCapture, Err: err}
		}
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, &app.StageError{Stage: app.StageCapture, Err: errors.Wrap(err, "decode photo")}
		}
		return b.inspections.Accept(ctx, op.VIN, op.Model, img)
	})
}

// process получает кадр через capture, запускает детекцию и отвечает оператору.
func (b *Bot) process(ctx context.Context, op *entity.Operator, chatID int64, capture func() (*entity.Inspection, error)) {
	b.operators.SetState(ctx, op.ID, chatID, entity.StateProcessing)
	b.sendMessage(chatID, msgProcessing)

	insp, err := capture()
	if err != nil {
		b.operators.SetState(ctx, op.ID, chatID, entity.StateReady)
		b.reportFailure(chatID, err)
		return
	}

	insp, err = b.inspections.Detect(ctx, insp)
	stage, _ := app.StageOf(err)
	switch {
	case err == nil:
	case stage == app.StageLog:
		b.sendMessage(chatID, fmt.Sprintf(msgLogFailed, stageCause(err)))
	case errors.Is(err, entity.ErrAlreadyLogged):
		b.operators.SetState(ctx, op.ID, chatID, entity.StateReady)
		b.reportFailure(chatID, err)
		return
	default:
		b.mu.Lock()
		b.pending[op.ID] = insp
		b.mu.Unlock()
		b.operators.SetState(ctx, op.ID, chatID, entity.StateReady)
		b.reportFailure(chatID, err)
		return
	}

	b.sendResult(chatID, insp)
	b.operators.Cancel(ctx, op.ID, chatID)
}

func (b *Bot) reportFailure(chatID int64, err error) {
	stage, ok := app.StageOf(err)
	if !ok {
		stage = app.StageDetect
	}
	b.logger.Warnw("inspection step failed", "stage", stage, "error", err)

	hint := msgRetryCapture
	if stage == app.StageDetect && !errors.Is(err, entity.ErrAlreadyLogged) {
		hint = msgRetryDetect
	}
	b.sendMessage(chatID, fmt.Sprintf(msgStageFailed, stage, stageCause(err))+"\n"+hint)
}

// sendResult размеченное фото с вердиктом и подсчётом.
func (b *Bot) sendResult(chatID int64, insp *entity.Inspection) {
	caption := FormatResult(insp)

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(insp.DetectedPath))
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Warnw("send annotated photo failed", "error", err)
		b.sendMessage(chatID, caption)
	}
}

// FormatResult текст результата проверки.
func FormatResult(insp *entity.Inspection) string {
	icon := "✅"
	if insp.Verdict != entity.VerdictOK {
		icon = "❌"
	}
	return fmt.Sprintf("%s %s\nVIN: %s\nМодель: %s\nЗатянуты: %d\nОслаблены: %d\nОтсутствуют: %d",
		icon, insp.Verdict, insp.VIN, insp.Model,
		insp.Counts.Get(entity.ClassFixed),
		insp.Counts.Get(entity.ClassLoose),
		insp.Counts.Get(entity.ClassNoBolt),
	)
}

// stageCause ошибка без префикса шага.
func stageCause(err error) error {
	var se *app.StageError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

func (b *Bot) takePending(userID int64) *entity.Inspection {
	b.mu.Lock()
	defer b.mu.Unlock()
	insp := b.pending[userID]
	delete(b.pending, userID)
	return insp
}

func (b *Bot) dropPending(userID int64) {
	b.takePending(userID)
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "get file")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warnw("send message failed", "chat", chatID, "error", err)
	}
}
