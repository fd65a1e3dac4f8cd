package saga

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
)

// =============================================================================
// Dispatcher — пул воркеров, продвигающих саги
// =============================================================================

// DispatcherConfig — настройки диспетчера саг.
type DispatcherConfig struct {
	// Workers — размер пула воркеров.
	Workers int

	// QueueCapacity — ёмкость очереди диспетчеризации.
	QueueCapacity int

	// MaxInFlightPerTenant — предел одновременно обрабатываемых саг
	// одного арендатора. Сверх предела заявки попадают в очередь ожидания.
	MaxInFlightPerTenant int

	// QueueMaxAge — максимальный возраст заявки в очереди ожидания,
	// старше — вытесняется.
	QueueMaxAge time.Duration
}

// DefaultDispatcherConfig возвращает конфигурацию по умолчанию.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:              16,
		QueueCapacity:        1024,
		MaxInFlightPerTenant: 64,
		QueueMaxAge:          60 * time.Second,
	}
}

// dispatchItem — заявка на продвижение саги.
type dispatchItem struct {
	sagaID     string
	tenantID   string
	template   string
	enqueuedAt time.Time
}

// Dispatcher раздаёт продвижение саг пулу воркеров.
// Сага продвигается на один шаг за диспетчеризацию и, если не достигла
// терминального состояния, ставится в очередь снова — длинная сага
// не монополизирует воркера.
//
// Арендатор ограничен по числу одновременных саг: сверх предела заявки
// копятся в очереди ожидания и продвигаются по мере освобождения слотов.
// Заявка старше QueueMaxAge вытесняется; заполненная очередь ожидания —
// отказ ErrTooManyInFlight вызывающему.
//
// Воркеры никогда не блокируются на возврате заявки в канал: при
// заполненном канале заявка уходит в буфер переполнения, который воркеры
// разбирают в первую очередь. Блокироваться на заполненном канале могут
// только внешние вызовы Enqueue.
type Dispatcher struct {
	orchestrator Orchestrator
	cfg          DispatcherConfig

	queue chan dispatchItem

	mu       sync.Mutex
	inFlight map[string]int            // tenantID -> активные саги
	waiting  map[string][]dispatchItem // tenantID -> очередь ожидания (FIFO)
	waitLen  int                       // суммарная длина очередей ожидания
	overflow []dispatchItem            // возвраты воркеров при заполненном канале
}

// NewDispatcher создаёт диспетчер саг.
func NewDispatcher(orchestrator Orchestrator, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatcherConfig().Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultDispatcherConfig().QueueCapacity
	}
	if cfg.MaxInFlightPerTenant <= 0 {
		cfg.MaxInFlightPerTenant = DefaultDispatcherConfig().MaxInFlightPerTenant
	}
	if cfg.QueueMaxAge <= 0 {
		cfg.QueueMaxAge = DefaultDispatcherConfig().QueueMaxAge
	}

	return &Dispatcher{
		orchestrator: orchestrator,
		cfg:          cfg,
		queue:        make(chan dispatchItem, cfg.QueueCapacity),
		inFlight:     make(map[string]int),
		waiting:      make(map[string][]dispatchItem),
	}
}

// Enqueue ставит сагу в очередь продвижения.
// При исчерпании слотов арендатора заявка попадает в очередь ожидания;
// заполненная очередь ожидания — ErrTooManyInFlight.
func (d *Dispatcher) Enqueue(ctx context.Context, sagaID, tenantID, template string) error {
	item := dispatchItem{
		sagaID:     sagaID,
		tenantID:   tenantID,
		template:   template,
		enqueuedAt: time.Now(),
	}

	d.mu.Lock()
	if d.inFlight[tenantID] >= d.cfg.MaxInFlightPerTenant {
		if d.waitLen >= d.cfg.QueueCapacity {
			d.mu.Unlock()
			return ErrTooManyInFlight
		}
		d.waiting[tenantID] = append(d.waiting[tenantID], item)
		d.waitLen++
		d.mu.Unlock()

		lg := logger.FromContext(ctx)
		lg.Debug().
			Str("saga_id", sagaID).
			Str("tenant_id", tenantID).
			Msg("Слоты арендатора заняты, сага в очереди ожидания")
		return nil
	}
	d.inFlight[tenantID]++
	d.mu.Unlock()

	metrics.SagasInFlight.WithLabelValues(template).Inc()
	return d.push(ctx, item)
}

// push отправляет заявку в канал диспетчеризации. Блокирующий вариант
// для внешних вызовов; воркеры пользуются requeue.
func (d *Dispatcher) push(ctx context.Context, item dispatchItem) error {
	select {
	case d.queue <- item:
		metrics.DispatcherQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-ctx.Done():
		d.release(ctx, item)
		return ctx.Err()
	}
}

// requeue возвращает заявку воркера в очередь, не блокируя его:
// при заполненном канале заявка уходит в буфер переполнения. Блокировка
// воркера здесь недопустима — когда все воркеры встанут на отправке,
// канал разбирать будет некому.
func (d *Dispatcher) requeue(item dispatchItem) {
	select {
	case d.queue <- item:
		metrics.DispatcherQueueDepth.Set(float64(len(d.queue)))
	default:
		d.mu.Lock()
		d.overflow = append(d.overflow, item)
		d.mu.Unlock()
	}
}

// popOverflow снимает первую заявку из буфера переполнения.
func (d *Dispatcher) popOverflow() (dispatchItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.overflow) == 0 {
		return dispatchItem{}, false
	}
	item := d.overflow[0]
	d.overflow = d.overflow[1:]
	return item, true
}

// Run запускает пул воркеров. Блокирует до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_capacity", d.cfg.QueueCapacity).
		Int("max_in_flight_per_tenant", d.cfg.MaxInFlightPerTenant).
		Msg("Запуск диспетчера саг")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(ctx)
			return nil
		})
	}

	err := g.Wait()
	log.Info().Msg("Остановка диспетчера саг")
	return err
}

// worker — цикл одного воркера: забрать заявку, продвинуть сагу на шаг,
// вернуть в очередь либо освободить слот. Буфер переполнения разбирается
// раньше канала, чтобы возвраты не застревали позади новых заявок.
func (d *Dispatcher) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if item, ok := d.popOverflow(); ok {
			d.dispatch(ctx, item)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case item := <-d.queue:
			metrics.DispatcherQueueDepth.Set(float64(len(d.queue)))
			d.dispatch(ctx, item)
		}
	}
}

// dispatch продвигает сагу на один шаг.
func (d *Dispatcher) dispatch(ctx context.Context, item dispatchItem) {
	log := logger.FromContext(ctx)

	done, err := d.orchestrator.Advance(ctx, item.sagaID)
	if err != nil {
		// Конфликт версий и transient-ошибки БД не теряют сагу:
		// заявка возвращается в очередь и будет продвинута снова.
		log.Warn().Err(err).
			Str("saga_id", item.sagaID).
			Msg("Ошибка продвижения саги, заявка возвращена в очередь")

		// Пауза перед повтором, чтобы не крутить горячий цикл при
		// недоступной БД.
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		d.requeue(item)
		return
	}

	if done {
		d.release(ctx, item)
		return
	}

	d.requeue(item)
}

// release освобождает слот арендатора и продвигает очередь ожидания:
// первая непросроченная заявка занимает освободившийся слот.
func (d *Dispatcher) release(ctx context.Context, item dispatchItem) {
	metrics.SagasInFlight.WithLabelValues(item.template).Dec()

	d.mu.Lock()
	if d.inFlight[item.tenantID] > 0 {
		d.inFlight[item.tenantID]--
	}
	next, ok := d.popWaiting(ctx, item.tenantID)
	if ok {
		d.inFlight[item.tenantID]++
	}
	d.mu.Unlock()

	if ok {
		metrics.SagasInFlight.WithLabelValues(next.template).Inc()
		d.requeue(next)
	}
}

// popWaiting снимает первую непросроченную заявку из очереди ожидания
// арендатора. Просроченные вытесняются с записью в лог.
// Вызывается под d.mu.
func (d *Dispatcher) popWaiting(ctx context.Context, tenantID string) (dispatchItem, bool) {
	queue := d.waiting[tenantID]
	now := time.Now()

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		d.waitLen--

		if now.Sub(item.enqueuedAt) > d.cfg.QueueMaxAge {
			lg := logger.FromContext(ctx)
			lg.Warn().
				Str("saga_id", item.sagaID).
				Str("tenant_id", item.tenantID).
				Dur("age", now.Sub(item.enqueuedAt)).
				Msg("Заявка вытеснена из очереди ожидания по возрасту")
			continue
		}

		d.waiting[tenantID] = queue
		return item, true
	}

	delete(d.waiting, tenantID)
	return dispatchItem{}, false
}

// InFlight возвращает число активных саг арендатора.
func (d *Dispatcher) InFlight(tenantID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[tenantID]
}
