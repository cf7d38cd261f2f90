package routes

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/hostcore/internal/archive"
	"github.com/example/hostcore/internal/config"
	"github.com/example/hostcore/internal/events"
	"github.com/example/hostcore/internal/handlers"
	"github.com/example/hostcore/internal/middleware"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/services"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Payments *services.PaymentService
	Domains  *services.DomainService
	Accounts *services.AccountService
	Orders   *services.OrderService
	Limiter  *services.RateLimitService
	Roles    *services.RoleService
	Admin    *services.AdminService

	closers []func()
}

// Close releases broker connections opened by NewServices.
func (s *Services) Close() {
	for _, fn := range s.closers {
		fn()
	}
}

// NewServices wires the production collaborators. Optional integrations that fail to
// start are logged and left out rather than failing startup.
func NewServices(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, log *zap.Logger) *Services {
	store := repository.New(db)
	svc := &Services{}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Warn("event publishing disabled", zap.Error(err))
		} else {
			publisher = amqpPublisher
			svc.closers = append(svc.closers, amqpPublisher.Close)
		}
	}

	var archiveStore archive.Store
	if cfg.ArchiveEnabled() {
		s3Store, err := archive.NewS3Store(ctx, archive.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Warn("webhook archive disabled", zap.Error(err))
		} else {
			archiveStore = s3Store
		}
	}

	var registrar services.Registrar = services.NewSimulatedRegistrar()
	if cfg.RegistrarBaseURL != "" {
		registrar = services.NewHTTPRegistrar(cfg.RegistrarBaseURL, cfg.RegistrarAPIKey, cfg.HTTPTimeout)
	} else {
		log.Info("REGISTRAR_BASE_URL not set, using simulated registrar")
	}

	notifier := services.NewNotificationService(
		services.NewMailService(cfg.MailFunctionURL, cfg.MailFunctionKey, cfg.HTTPTimeout),
		services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log),
	)

	svc.Limiter = services.NewRateLimitService(store, log)
	svc.Roles = services.NewRoleService(store, rdb, log)
	svc.Accounts = services.NewAccountService(store, svc.Limiter, cfg.JWTSecret, cfg.TokenExpires, log)
	svc.Orders = services.NewOrderService(store)
	svc.Admin = services.NewAdminService(store, store)
	svc.Payments = services.NewPaymentService(services.PaymentDeps{
		Payments:      store,
		Orders:        store,
		Webhooks:      store,
		Gateway:       services.NewUddoktaPayClient(cfg.UddoktaPayBaseURL, cfg.UddoktaPayAPIKey, cfg.HTTPTimeout),
		Notifier:      notifier,
		Publisher:     publisher,
		Archive:       archiveStore,
		WebhookSecret: cfg.UddoktaPayAPIKey,
		Log:           log,
	})
	svc.Domains = services.NewDomainService(services.DomainDeps{
		Domains:            store,
		Audit:              store,
		Registrar:          registrar,
		Notifier:           notifier,
		Publisher:          publisher,
		DefaultNameservers: cfg.DefaultNameservers,
		Log:                log,
	})
	return svc
}

// Options tune route registration.
type Options struct {
	JWTSecret string
	// PublicRateLimit caps requests per minute per IP on unauthenticated endpoints. Zero disables it.
	PublicRateLimit int
	// LimiterStorage backs the public limiter. Nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, svc *Services, opts Options) {
	authHandler := handlers.NewAuthHandler(svc.Accounts)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, svc.Roles)
	domainHandler := handlers.NewDomainHandler(svc.Domains, svc.Roles)
	orderHandler := handlers.NewOrderHandler(svc.Orders, svc.Roles)
	rateLimitHandler := handlers.NewRateLimitHandler(svc.Limiter)
	roleHandler := handlers.NewRoleHandler(svc.Roles)
	adminHandler := handlers.NewAdminHandler(svc.Admin, svc.Payments, svc.Domains)

	app.Use(corsMiddleware())

	api := app.Group("/api")

	public := publicLimiter(opts)

	// Auth routes
	auth := api.Group("/auth", public)
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	api.Post("/rate-limit", public, rateLimitHandler.Evaluate)

	// Gateway callback, authenticated by the shared API key only
	api.Post("/payments/webhook", middleware.WebhookAuthMiddleware(svc.Payments), paymentHandler.Webhook)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(opts.JWTSecret))

	protected.Get("/roles/me", roleHandler.Me)

	protected.Post("/payments/initiate", paymentHandler.Initiate)
	protected.Post("/payments/verify", paymentHandler.Verify)
	protected.Get("/payments", paymentHandler.ListPayments)
	protected.Get("/invoices", paymentHandler.ListInvoices)

	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)

	domains := protected.Group("/domains")
	domains.Get("/", domainHandler.ListDomains)
	domains.Get("/:id", domainHandler.GetDomain)
	domains.Post("/register", domainHandler.Register)
	domains.Post("/transfer-in/request", domainHandler.RequestTransferIn)
	domains.Post("/transfer-in", domainHandler.DecideTransferIn)
	domains.Post("/transfer-out", domainHandler.TransferOut)
	domains.Post("/nameservers", domainHandler.UpdateNameservers)
	domains.Post("/auto-renew", domainHandler.ToggleAutoRenew)
	domains.Post("/auth-code", domainHandler.GenerateAuthCode)

	admin := protected.Group("/admin", middleware.RequireAdmin(svc.Roles))
	admin.Get("/stats", adminHandler.DashboardStats)
	admin.Get("/payments", adminHandler.ListPayments)
	admin.Get("/webhook-logs", adminHandler.ListWebhookLogs)
	admin.Get("/domains", adminHandler.ListDomains)
	admin.Get("/provisioning-queue", adminHandler.ListProvisioningQueue)
	admin.Get("/audit-logs", adminHandler.ListAuditLogs)
}

// corsMiddleware answers browser preflights from any origin, including the gateway key header.
func corsMiddleware() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, RT-UDDOKTAPAY-API-KEY",
		AllowMethods: "GET,POST,PUT,OPTIONS",
	})
}

func publicLimiter(opts Options) fiber.Handler {
	if opts.PublicRateLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        opts.PublicRateLimit,
		Expiration: time.Minute,
		Storage:    opts.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests")
		},
	})
}

// LimiterStorage returns redis backed limiter storage when REDIS_ADDR is set.
func LimiterStorage(cfg *config.Config) fiber.Storage {
	if cfg.RedisAddr == "" {
		return nil
	}
	host, rawPort, err := net.SplitHostPort(cfg.RedisAddr)
	if err != nil {
		host, rawPort = cfg.RedisAddr, "6379"
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: cfg.RedisPassword,
		Database: cfg.RedisDB,
		Reset:    false,
	})
}
