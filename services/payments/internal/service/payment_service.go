package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/domain"
	"example.com/payments-platform/services/payments/internal/repository"
	"example.com/payments-platform/services/payments/internal/saga"
)

// ErrEmptyIdempotencyKey — запрос без ключа идемпотентности отклоняется
// до создания платежа.
var ErrEmptyIdempotencyKey = errors.New("ключ идемпотентности обязателен")

// DefaultIdempotencyTTL — срок жизни ключа идемпотентности в Redis.
// БД остаётся источником истины: уникальный индекс (tenant_id,
// idempotency_key) работает и после истечения ключа.
const DefaultIdempotencyTTL = 24 * time.Hour

// Enqueuer — постановка саги в очередь диспетчера.
type Enqueuer interface {
	Enqueue(ctx context.Context, sagaID, tenantID, template string) error
}

// PaymentService — операции платежей, видимые внешним вызывающим.
type PaymentService interface {
	// InitiatePayment идемпотентно создаёт платёж и запускает сагу
	// PAYMENT_PROCESSING. Повтор с тем же ключом идемпотентности
	// возвращает идентификатор первого платежа и не создаёт вторую сагу.
	// Насыщение арендатора — saga.ErrTooManyInFlight.
	InitiatePayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentID, error)

	// GetPayment возвращает статус платежа с причиной FAILED / HELD.
	GetPayment(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID) (*domain.PaymentStatusView, error)

	// CancelPayment отменяет платёж до завершения: сага уходит
	// в компенсацию с указанной причиной.
	CancelPayment(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID, reason string) error
}

// paymentService — реализация PaymentService.
type paymentService struct {
	payments       repository.PaymentRepository
	sagas          saga.SagaRepository
	orchestrator   saga.Orchestrator
	dispatcher     Enqueuer
	rdb            *redis.Client // nil — идемпотентность только через БД
	idempotencyTTL time.Duration
}

// NewPaymentService создаёт сервис платежей.
// rdb может быть nil: быстрый путь идемпотентности отключается,
// уникальный индекс БД остаётся страховкой.
func NewPaymentService(
	payments repository.PaymentRepository,
	sagas saga.SagaRepository,
	orchestrator saga.Orchestrator,
	dispatcher Enqueuer,
	rdb *redis.Client,
) PaymentService {
	return &paymentService{
		payments:       payments,
		sagas:          sagas,
		orchestrator:   orchestrator,
		dispatcher:     dispatcher,
		rdb:            rdb,
		idempotencyTTL: DefaultIdempotencyTTL,
	}
}

// InitiatePayment идемпотентно создаёт платёж и запускает сагу.
func (s *paymentService) InitiatePayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentID, error) {
	log := logger.FromContext(ctx)

	if req.IdempotencyKey == "" {
		return "", ErrEmptyIdempotencyKey
	}
	tenant, err := domain.NewTenantContext(req.TenantID, req.BusinessUnitID)
	if err != nil {
		return "", err
	}

	paymentID := domain.PaymentID(uuid.NewString())

	// Быстрый путь: SETNX по ключу идемпотентности. Сбой Redis не валит
	// инициацию — уникальный индекс БД перехватит дубликат.
	if existing, claimed := s.claimIdempotencyKey(ctx, tenant, req.IdempotencyKey, paymentID); !claimed {
		log.Info().
			Str("payment_id", existing.String()).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("Повторная инициация платежа, возвращён существующий идентификатор")
		return existing, nil
	}

	payment, err := s.buildPayment(paymentID, tenant, req)
	if err != nil {
		s.releaseIdempotencyKey(ctx, tenant, req.IdempotencyKey)
		return "", err
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			return s.resumeDuplicate(ctx, tenant, req)
		}
		s.releaseIdempotencyKey(ctx, tenant, req.IdempotencyKey)
		return "", err
	}

	if err := s.startSaga(ctx, tenant, payment.ID, req); err != nil {
		return "", err
	}

	log.Info().
		Str("payment_id", paymentID.String()).
		Str("tenant_id", tenant.TenantID).
		Str("amount", req.Amount).
		Str("currency", req.Currency).
		Msg("Платёж инициирован")

	return paymentID, nil
}

// buildPayment валидирует запрос и создаёт агрегат платежа.
func (s *paymentService) buildPayment(id domain.PaymentID, tenant domain.TenantContext, req domain.PaymentRequest) (*domain.Payment, error) {
	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	source, err := domain.NewAccountNumber(req.SourceAccount)
	if err != nil {
		return nil, err
	}
	destination, err := domain.NewAccountNumber(req.DestinationAccount)
	if err != nil {
		return nil, err
	}

	return domain.NewPayment(
		id,
		tenant,
		source,
		destination,
		amount,
		req.Reference,
		req.Type,
		req.Priority,
		req.InitiatedBy,
		req.IdempotencyKey,
	)
}

// startSaga создаёт сагу PAYMENT_PROCESSING и ставит её в очередь.
// Насыщение арендатора: сага отменяется, платёж помечается FAILED
// с причиной TOO_MANY_IN_FLIGHT.
func (s *paymentService) startSaga(ctx context.Context, tenant domain.TenantContext, paymentID domain.PaymentID, req domain.PaymentRequest) error {
	payload, err := json.Marshal(sagaPayload{
		PaymentID:          paymentID.String(),
		TenantID:           req.TenantID,
		BusinessUnitID:     req.BusinessUnitID,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Reference:          req.Reference,
		Type:               string(req.Type),
		Priority:           string(req.Priority),
		InitiatedBy:        req.InitiatedBy,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return fmt.Errorf("сериализация полезной нагрузки саги: %w", err)
	}

	sg, err := s.orchestrator.Start(ctx, saga.TemplatePaymentProcessing, tenant, paymentID.String(), json.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("запуск саги платежа: %w", err)
	}

	if err := s.dispatcher.Enqueue(ctx, sg.ID, tenant.TenantID, sg.TemplateName); err != nil {
		if errors.Is(err, saga.ErrTooManyInFlight) {
			s.rejectSaturated(ctx, tenant, paymentID, sg.ID)
		}
		return err
	}
	return nil
}

// rejectSaturated отклоняет платёж при насыщении арендатора: шагов ещё
// не выполнялось, отмена саги вырождается в терминальное состояние
// при первом же восстановлении.
func (s *paymentService) rejectSaturated(ctx context.Context, tenant domain.TenantContext, paymentID domain.PaymentID, sagaID string) {
	log := logger.FromContext(ctx)

	if err := s.orchestrator.Cancel(ctx, sagaID, saga.ErrTooManyInFlight.Error()); err != nil {
		log.Warn().Err(err).Str("saga_id", sagaID).Msg("Не удалось отменить сагу насыщенного арендатора")
	}

	payment, err := s.payments.GetByID(ctx, tenant, paymentID)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", paymentID.String()).Msg("Не удалось загрузить платёж для отклонения")
		return
	}
	if err := payment.Fail(saga.ErrTooManyInFlight.Error()); err == nil {
		if err := s.payments.Save(ctx, payment); err != nil {
			log.Warn().Err(err).Str("payment_id", paymentID.String()).Msg("Не удалось сохранить отклонённый платёж")
		}
	}
}

// resumeDuplicate обрабатывает гонку на уникальном индексе: возвращает
// идентификатор первого платежа. Если платёж есть, а саги нет (сбой между
// созданием платежа и стартом саги), сага дозапускается.
func (s *paymentService) resumeDuplicate(ctx context.Context, tenant domain.TenantContext, req domain.PaymentRequest) (domain.PaymentID, error) {
	payment, err := s.payments.GetByIdempotencyKey(ctx, tenant, req.IdempotencyKey)
	if err != nil {
		return "", err
	}

	if _, err := s.sagas.GetByBusinessKey(ctx, tenant, payment.ID.String()); err != nil {
		if !errors.Is(err, saga.ErrSagaNotFound) {
			return "", err
		}
		if err := s.startSaga(ctx, tenant, payment.ID, req); err != nil {
			return "", err
		}
	}

	s.storeIdempotencyKey(ctx, tenant, req.IdempotencyKey, payment.ID)
	return payment.ID, nil
}

// GetPayment возвращает статус платежа.
func (s *paymentService) GetPayment(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID) (*domain.PaymentStatusView, error) {
	payment, err := s.payments.GetByID(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	view := &domain.PaymentStatusView{
		PaymentID: payment.ID.String(),
		Status:    payment.Status,
	}
	if payment.FailureReason != nil {
		view.Reason = *payment.FailureReason
	}
	return view, nil
}

// CancelPayment отменяет платёж до завершения.
func (s *paymentService) CancelPayment(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID, reason string) error {
	payment, err := s.payments.GetByID(ctx, tenant, id)
	if err != nil {
		return err
	}
	if !payment.CanCancel() {
		return domain.ErrPaymentNotCancellable
	}

	sg, err := s.sagas.GetByBusinessKey(ctx, tenant, id.String())
	if err != nil {
		if !errors.Is(err, saga.ErrSagaNotFound) {
			return err
		}
		// Саги нет (платёж отклонён до её старта) — платёж закрывается напрямую.
		if err := payment.Fail(reason); err != nil {
			return err
		}
		return s.payments.Save(ctx, payment)
	}

	if err := s.orchestrator.Cancel(ctx, sg.ID, reason); err != nil {
		if errors.Is(err, saga.ErrCancelNotAllowed) || errors.Is(err, saga.ErrSagaTerminal) {
			return domain.ErrPaymentNotCancellable
		}
		return err
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("payment_id", id.String()).
		Str("saga_id", sg.ID).
		Str("reason", reason).
		Msg("Платёж отменён, сага уходит в компенсацию")

	return nil
}

// =============================================================================
// Идемпотентность через Redis
// =============================================================================

func idempotencyKey(tenant domain.TenantContext, key string) string {
	return fmt.Sprintf("payments:idempotency:%s:%s", tenant.TenantID, key)
}

// claimIdempotencyKey пытается захватить ключ идемпотентности.
// Возвращает (существующий paymentId, false), если ключ уже занят.
// Любой сбой Redis трактуется как успешный захват: истиной остаётся БД.
func (s *paymentService) claimIdempotencyKey(ctx context.Context, tenant domain.TenantContext, key string, id domain.PaymentID) (domain.PaymentID, bool) {
	if s.rdb == nil {
		return "", true
	}

	redisKey := idempotencyKey(tenant, key)
	ok, err := s.rdb.SetNX(ctx, redisKey, id.String(), s.idempotencyTTL).Result()
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).Msg("Redis недоступен, идемпотентность через уникальный индекс БД")
		return "", true
	}
	if ok {
		return "", true
	}

	existing, err := s.rdb.Get(ctx, redisKey).Result()
	if err != nil || existing == "" {
		// Ключ истёк между SETNX и GET — редкая гонка, решает индекс БД.
		return "", true
	}
	return domain.PaymentID(existing), false
}

func (s *paymentService) storeIdempotencyKey(ctx context.Context, tenant domain.TenantContext, key string, id domain.PaymentID) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, idempotencyKey(tenant, key), id.String(), s.idempotencyTTL).Err(); err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).Msg("Не удалось обновить ключ идемпотентности в Redis")
	}
}

func (s *paymentService) releaseIdempotencyKey(ctx context.Context, tenant domain.TenantContext, key string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, idempotencyKey(tenant, key)).Err(); err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).Msg("Не удалось освободить ключ идемпотентности в Redis")
	}
}
