package application

import (
	"context"
	"fmt"

	"coordinator/internal/application/common"
	"coordinator/internal/application/entity"
	"coordinator/internal/application/handlers"
	"coordinator/internal/application/registry"
	"coordinator/internal/application/repo"
	"coordinator/internal/application/service"
	"coordinator/internal/controllers/cron"
	"coordinator/internal/controllers/listener"
	"coordinator/internal/transport"
	"coordinator/internal/transport/producer"
	"coordinator/internal/transport/webhook"
	"coordinator/pkg/broker"
	"coordinator/pkg/config"
	"coordinator/pkg/db"
	"coordinator/pkg/httpclient"
	"coordinator/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type App struct {
	ctx            context.Context
	conf           *config.Config
	logger         *zap.SugaredLogger
	postgres       *db.Postgres
	httpServer     *fiber.App
	kafka          *broker.KafkaBroker
	cronController *cron.Controller
	registry       *registry.RegistryImpl
	enqueuer       *service.Enqueuer
	handlers       *handlers.Registry
	store          repo.Repo
}

func NewApp(
	ctx context.Context,
	conf *config.Config,
	logger *zap.SugaredLogger,
	postgres *db.Postgres,
	httpServer *fiber.App,
	kafkaBroker *broker.KafkaBroker,
	m *metrics.Metrics) (*App, error) {
	logger.Infof("Запуск Coordinator Service версии: %s", common.Version)

	go func() {
		<-ctx.Done()
		logger.Info("закрытие consumer group")
		kafkaBroker.ConsumerGroup.Close()
		logger.Info("закрытие consumer group: done")
	}()

	store := repo.NewRepo(postgres, logger, conf.Coordinator.ClaimLimit, conf.Coordinator.MaxAttempts)

	reg, err := registry.NewRegistry(store, logger, conf.Registry.HeartbeatPeriod, conf.Registry.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("new registry: %w", err)
	}
	if err := reg.Register(ctx); err != nil {
		return nil, fmt.Errorf("register instance: %w", err)
	}
	go reg.RunHeartbeat(ctx)

	coordinator := service.NewCoordinator(store, reg, logger, conf.Coordinator.Lease, m)

	// Транспорты исходящего пути: Kafka по "kafka:", webhook по "http(s)://"
	kafkaTransport := producer.NewKafkaTransport(kafkaBroker, logger, conf.Broker.Kafka.MaxAttempts, m)
	webhookClient := httpclient.NewRetryClient(httpclient.NewClient(conf.HTTPClient), conf.HTTPClient.MaxRetries, logger)
	webhookTransport := webhook.NewWebhookTransport(webhookClient, logger)

	mux := transport.NewMux(logger)
	mux.Register(producer.DestinationPrefix, kafkaTransport)
	mux.Register(webhook.DestinationPrefix, webhookTransport)
	mux.Register(webhook.DestinationPrefixPlain, webhookTransport)

	handlerRegistry := handlers.NewRegistry()
	proc := service.NewStreamProcessor(logger, m)
	consumerWorker := service.NewConsumerWorker(coordinator, handlerRegistry, proc, logger)

	intervalStrategy := service.NewInterval(coordinator, logger, conf.Publisher.FlushInterval)
	publisher := service.NewPublisherWorker(intervalStrategy, mux, proc, consumerWorker, logger)
	// outbound, порождённый хендлером внутри scope доставки, публикуется
	// тем же scope, не дожидаясь фонового цикла
	consumerWorker.SetPublishFunc(publisher.PublishOne)
	go publisher.Run(ctx)

	enqueuer := service.NewEnqueuer(intervalStrategy, logger)

	// Инициализация cron контроллера
	cronController := cron.NewController(ctx, logger)
	if err := cronController.RegisterMaintenanceJob(store, conf.Maintenance, conf.Registry.StaleAfter); err != nil {
		return nil, fmt.Errorf("не удалось зарегистрировать cron задачу: %w", err)
	}
	cronController.Start()

	app := &App{
		ctx:            ctx,
		conf:           conf,
		logger:         logger,
		postgres:       postgres,
		httpServer:     httpServer,
		kafka:          kafkaBroker,
		cronController: cronController,
		registry:       reg,
		enqueuer:       enqueuer,
		handlers:       handlerRegistry,
		store:          store,
	}

	go app.runConsumer(ctx, logger, consumerWorker, kafkaBroker, m)

	return app, nil
}

// Enqueuer - точка входа для встраивающего кода: постановка исходящих
// команд и событий.
func (a *App) Enqueuer() *service.Enqueuer {
	return a.enqueuer
}

// Handlers - реестр обработчиков входящих типов сообщений.
func (a *App) Handlers() *handlers.Registry {
	return a.handlers
}

// ReadStream отдаёт хвост журнала событий потока начиная с version > after.
func (a *App) ReadStream(ctx context.Context, streamID string, after int64, limit int) ([]entity.EventLogRecord, error) {
	return a.store.ReadEventLog(ctx, streamID, after, limit)
}

func (a *App) Run() error {
	return a.httpServer.Listen(fmt.Sprintf(":%s", a.conf.Server.Port))
}

func (a *App) Shutdown() error {
	// Останавливаем cron задачи
	if a.cronController != nil {
		a.cronController.Stop()
	}

	// Снимаем запись инстанса: наши lease истекут сами, живые инстансы
	// переполучат работу
	shutdownCtx := context.Background()
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorw("instance deactivate failed", "err", err)
	}

	return a.httpServer.Shutdown()
}

func (a *App) runConsumer(ctx context.Context, logger *zap.SugaredLogger, worker *service.ConsumerWorker, kafkaBroker *broker.KafkaBroker, m *metrics.Metrics) {
	if kafkaBroker.ConsumerTopic == "" {
		logger.Warn("consumer topic не задан, входящий Kafka путь выключен")
		return
	}
	logger.Infof("Запуск consumer для топика: %s", kafkaBroker.ConsumerTopic)

	kafkaBrokerConsumer := listener.NewKafkaBrokerConsumer(worker, logger, m)

	for {
		logger.Debugf("Попытка подключения к consumer group...")
		err := kafkaBroker.ConsumerGroup.Consume(ctx, []string{kafkaBroker.ConsumerTopic}, kafkaBrokerConsumer)
		if err != nil {
			logger.Errorf("Ошибка consumer: %v", err)
		}
		if ctx.Err() != nil {
			logger.Info("Consumer остановлен по контексту")
			return
		}
	}
}
