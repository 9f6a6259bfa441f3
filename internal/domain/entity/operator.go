package entity

// OperatorState состояние оператора в диалоге
type OperatorState string

const (
	StateMainMenu      OperatorState = "main_menu"      // В главном меню
	StateAwaitingVIN   OperatorState = "awaiting_vin"   // Ожидание VIN
	StateAwaitingModel OperatorState = "awaiting_model" // Ожидание модели
	StateReady         OperatorState = "ready"          // Ожидание /capture или фото
	StateProcessing    OperatorState = "processing"     // Обработка изображения
)

// Operator оператор станции контроля
type Operator struct {
	ID     int64         // Telegram User ID
	ChatID int64         // Telegram Chat ID
	State  OperatorState // Текущее состояние диалога
	VIN    string        // VIN текущей проверки
	Model  string        // модель текущей проверки
}

// NewOperator создаёт оператора с начальным состоянием
func NewOperator(userID, chatID int64) *Operator {
	return &Operator{
		ID:     userID,
		ChatID: chatID,
		State:  StateMainMenu,
	}
}

// SetState обновляет состояние оператора
func (o *Operator) SetState(state OperatorState) {
	o.State = state
}

// Reset сбрасывает данные проверки и возвращает в главное меню
func (o *Operator) Reset() {
	o.VIN = ""
	o.Model = ""
	o.State = StateMainMenu
}
