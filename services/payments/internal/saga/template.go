package saga

import (
	"sort"
	"time"
)

// Имена шаблонов саг платформы.
const (
	TemplatePaymentProcessing   = "PAYMENT_PROCESSING"
	TemplateAccountUpdate       = "ACCOUNT_UPDATE"
	TemplateTransactionReversal = "TRANSACTION_REVERSAL"
	TemplateSettlement          = "SETTLEMENT"
	TemplateReconciliation      = "RECONCILIATION"
	TemplateBatchProcessing     = "BATCH_PROCESSING"
)

// Имена шагов шаблона PAYMENT_PROCESSING.
const (
	StepValidate            = "Validate"
	StepReserveFunds        = "ReserveFunds"
	StepDetermineRoute      = "DetermineRoute"
	StepCreateTransaction   = "CreateTransaction"
	StepSubmitToClearing    = "SubmitToClearing"
	StepAwaitSettlement     = "AwaitSettlement"
	StepCompleteTransaction = "CompleteTransaction"
	StepNotify              = "Notify"
)

// Сервисы, к которым привязаны действия шагов.
const (
	ServiceValidation   = "validation"
	ServiceAccount      = "account"
	ServiceRouting      = "routing"
	ServiceLedger       = "ledger"
	ServiceClearing     = "clearing"
	ServiceSettlement   = "settlement"
	ServiceNotification = "notification"
)

// StepDefinition — описание шага в шаблоне саги.
type StepDefinition struct {
	Name               string
	Service            string
	Action             string
	CompensationAction string // Пустая строка — шаг без компенсации
	Order              int
	Timeout            time.Duration // 0 — таймаут по умолчанию
}

// Template — шаблон саги: упорядоченный список шагов.
type Template struct {
	Name  string
	Steps []StepDefinition
}

// Registry — реестр шаблонов саг.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry создаёт реестр с зарегистрированными шаблонами платформы.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range builtinTemplates() {
		r.Register(t)
	}
	return r
}

// Register добавляет шаблон в реестр. Шаги сортируются по order —
// порядок объявления в коде не важен, порядок выполнения определяет order.
func (r *Registry) Register(t *Template) {
	sort.SliceStable(t.Steps, func(i, j int) bool {
		return t.Steps[i].Order < t.Steps[j].Order
	})
	r.templates[t.Name] = t
}

// Get возвращает шаблон по имени.
func (r *Registry) Get(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, ErrUnknownTemplate
	}
	return t, nil
}

// builtinTemplates возвращает шаблоны саг платформы.
// Все шаблоны используют одну машину исполнения; действия привязываются
// к портам через реестр обработчиков (service, action).
func builtinTemplates() []*Template {
	return []*Template{
		{
			// Основной поток обработки платежа.
			Name: TemplatePaymentProcessing,
			Steps: []StepDefinition{
				{Name: StepValidate, Service: ServiceValidation, Action: "validate", Order: 1},
				{Name: StepReserveFunds, Service: ServiceAccount, Action: "reserve", CompensationAction: "release", Order: 2},
				{Name: StepDetermineRoute, Service: ServiceRouting, Action: "decide", Order: 3},
				{Name: StepCreateTransaction, Service: ServiceLedger, Action: "create", CompensationAction: "fail", Order: 4},
				{Name: StepSubmitToClearing, Service: ServiceClearing, Action: "submit", CompensationAction: "reverse", Order: 5},
				{Name: StepAwaitSettlement, Service: ServiceSettlement, Action: "await", CompensationAction: "cancel", Order: 6},
				{Name: StepCompleteTransaction, Service: ServiceLedger, Action: "complete", CompensationAction: "fail-completed", Order: 7},
				{Name: StepNotify, Service: ServiceNotification, Action: "send", Order: 8},
			},
		},
		{
			// Обновление атрибутов счёта с зеркальным откатом.
			Name: TemplateAccountUpdate,
			Steps: []StepDefinition{
				{Name: "ValidateUpdate", Service: ServiceValidation, Action: "validate", Order: 1},
				{Name: "ApplyUpdate", Service: ServiceAccount, Action: "apply-update", CompensationAction: "revert-update", Order: 2},
				{Name: "NotifyUpdate", Service: ServiceNotification, Action: "send", Order: 3},
			},
		},
		{
			// Разворот проведённой транзакции: зеркальная пара проводок.
			Name: TemplateTransactionReversal,
			Steps: []StepDefinition{
				{Name: "LoadOriginal", Service: ServiceLedger, Action: "load", Order: 1},
				{Name: "CreateReversal", Service: ServiceLedger, Action: "create-reversal", CompensationAction: "fail", Order: 2},
				{Name: "SubmitReversal", Service: ServiceClearing, Action: "submit", CompensationAction: "reverse", Order: 3},
				{Name: "CompleteReversal", Service: ServiceLedger, Action: "complete", Order: 4},
			},
		},
		{
			// Расчёт по подтверждению клиринговой системы.
			Name: TemplateSettlement,
			Steps: []StepDefinition{
				{Name: "AwaitConfirmation", Service: ServiceSettlement, Action: "await", CompensationAction: "cancel", Order: 1},
				{Name: "PostSettlement", Service: ServiceLedger, Action: "complete", CompensationAction: "fail-completed", Order: 2},
				{Name: "NotifySettlement", Service: ServiceNotification, Action: "send", Order: 3},
			},
		},
		{
			// Сверка остатков: только чтение, компенсировать нечего.
			Name: TemplateReconciliation,
			Steps: []StepDefinition{
				{Name: "CollectBalances", Service: ServiceLedger, Action: "collect-balances", Order: 1},
				{Name: "CompareStatements", Service: ServiceSettlement, Action: "compare", Order: 2},
				{Name: "ReportDiscrepancies", Service: ServiceNotification, Action: "send", Order: 3},
			},
		},
		{
			// Пакетная обработка: разбор файла, валидация и раздача платежей.
			Name: TemplateBatchProcessing,
			Steps: []StepDefinition{
				{Name: "ParseBatch", Service: ServiceValidation, Action: "parse-batch", Order: 1},
				{Name: "ValidateBatch", Service: ServiceValidation, Action: "validate", Order: 2},
				{Name: "DispatchPayments", Service: ServiceLedger, Action: "dispatch-batch", CompensationAction: "fail", Order: 3},
				{Name: "NotifyBatch", Service: ServiceNotification, Action: "send", Order: 4},
			},
		},
	}
}
