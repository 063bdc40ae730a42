package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daskott/kontacts/server/auth/key"
	"github.com/Daskott/kontacts/server/cache"
	"github.com/Daskott/kontacts/server/cron"
	"github.com/Daskott/kontacts/server/gravatar"
	"github.com/Daskott/kontacts/server/logger"
	"github.com/Daskott/kontacts/server/mail"
	"github.com/Daskott/kontacts/server/models"
	"github.com/Daskott/kontacts/server/ratelimit"
	"github.com/Daskott/kontacts/server/storage"
	"github.com/Daskott/kontacts/shared"
	"github.com/go-playground/validator"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	LIST_RATE_LIMIT  = 10
	LIST_RATE_WINDOW = 60 * time.Second
)

var logg = logger.NewLogger()

type RequestContextKey string

// Dependencies are the collaborators a Server hands requests to. Nil
// collaborators are replaced with no-op versions by NewServer.
type Dependencies struct {
	Contacts  models.ContactsRepository
	Users     models.UserRepository
	KeyPair   *key.KeyPair
	Limiter   ratelimit.Limiter
	UserCache cache.UserCache
	Mailer    mail.Mailer
	ImageHost storage.ImageHost
}

type Server struct {
	config    *shared.ServerConfig
	contacts  models.ContactsRepository
	users     models.UserRepository
	keyPair   *key.KeyPair
	limiter   ratelimit.Limiter
	userCache cache.UserCache
	mailer    mail.Mailer
	imageHost storage.ImageHost
	validate  *validator.Validate
}

func NewServer(config *shared.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Contacts == nil || deps.Users == nil || deps.KeyPair == nil {
		return nil, fmt.Errorf("NewServer: contacts, users & keyPair are required")
	}

	validate := validator.New()
	if err := RegisterValidators(validate); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		contacts:  deps.Contacts,
		users:     deps.Users,
		keyPair:   deps.KeyPair,
		limiter:   deps.Limiter,
		userCache: deps.UserCache,
		mailer:    deps.Mailer,
		imageHost: deps.ImageHost,
		validate:  validate,
	}

	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter(LIST_RATE_LIMIT, LIST_RATE_WINDOW)
	}
	if s.userCache == nil {
		s.userCache = cache.NopCache{}
	}
	if s.mailer == nil {
		s.mailer = mail.LogMailer{}
	}
	if s.imageHost == nil {
		s.imageHost = storage.UnconfiguredImageHost{}
	}

	return s, nil
}

// Router registers every route & wraps them in the shared middlewares
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware, jsonContentTypeMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	authRouter := api.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/signup{slash:/?}", s.signUp).Methods("POST")
	authRouter.HandleFunc("/login{slash:/?}", s.logIn).Methods("POST")
	authRouter.HandleFunc("/refresh_token{slash:/?}", s.refreshToken).Methods("GET")
	authRouter.HandleFunc("/confirmed_email/{token}", s.confirmedEmail).Methods("GET")
	authRouter.HandleFunc("/request_email{slash:/?}", s.requestEmail).Methods("POST")
	authRouter.HandleFunc("/jwks{slash:/?}", s.jwks).Methods("GET")

	protected := api.NewRoute().Subrouter()
	protected.Use(s.protectedRouteMiddleware)

	protected.Handle("/contacts{slash:/?}", s.rateLimitMiddleware(http.HandlerFunc(s.listContacts))).Methods("GET")
	protected.HandleFunc("/contacts{slash:/?}", s.createContact).Methods("POST")
	protected.HandleFunc("/contacts/search{slash:/?}", s.searchContacts).Methods("GET")
	protected.HandleFunc("/contacts/upcoming-birthdays{slash:/?}", s.upcomingBirthdays).Methods("GET")
	protected.HandleFunc("/contacts/{id}", s.findContact).Methods("GET")
	protected.HandleFunc("/contacts/{id}", s.updateContact).Methods("PUT")
	protected.HandleFunc("/contacts/{id}", s.removeContact).Methods("DELETE")

	protected.HandleFunc("/users/me{slash:/?}", s.currentUser).Methods("GET")
	protected.HandleFunc("/users/avatar{slash:/?}", s.updateAvatar).Methods("PATCH")

	var handler http.Handler = router
	if s.config.Kontacts.OriginsURL != "" {
		handler = handlers.CORS(
			handlers.AllowedOrigins([]string{s.config.Kontacts.OriginsURL}),
			handlers.AllowCredentials(),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(handler)
	}

	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(handler)
}

// Start wires up every collaborator from config, serves until SIGINT/SIGTERM
// & then shuts down gracefully
func Start(config *shared.ServerConfig, devMode bool) {
	keyPair, err := key.NewKeyPairFromRSAPrivateKeyPem([]byte(config.Kontacts.PrivateKeyPem))
	fatalOnError(err)

	var gStorage *storage.GStorage
	if config.Avatar.Provider == "gcs" || backupEnabled(config) {
		gStorage, err = storage.NewGStorage(config.Google.ApplicationCredentials)
		fatalOnError(err)
		defer gStorage.Close()
	}

	if config.Database.Driver == "sqlite" {
		if config.Database.Sqlite.Dir == "" {
			config.Database.Sqlite.Dir = configDirectory(devMode)
		}
		if backupEnabled(config) {
			fatalOnError(restoreSqliteDb(gStorage, config))
		}
	}

	db := openAndMigrate(config)

	deps := Dependencies{
		Contacts: models.NewContactStore(db),
		Users:    models.NewUserStore(db, gravatar.NewFinder()),
		KeyPair:  keyPair,
		Limiter:  ratelimit.NewMemoryLimiter(LIST_RATE_LIMIT, LIST_RATE_WINDOW),
	}

	if config.RedisEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%v:%v", config.Redis.Host, config.Redis.Port),
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer redisClient.Close()

		deps.Limiter = ratelimit.NewRedisLimiter(redisClient, LIST_RATE_LIMIT, LIST_RATE_WINDOW)
		deps.UserCache = cache.NewRedisUserCache(redisClient)
	}

	if config.MailEnabled() {
		deps.Mailer = mail.NewSMTPMailer(config.Mail)
	}

	switch config.Avatar.Provider {
	case "gcs":
		deps.ImageHost = storage.NewAvatarHost(gStorage, config.Avatar.Bucket, config.Avatar.Prefix)
	case "s3":
		s3Storage, err := storage.NewS3Storage(config.AWS)
		fatalOnError(err)
		deps.ImageHost = storage.NewAvatarHost(s3Storage, config.Avatar.Bucket, config.Avatar.Prefix)
	}

	kontactsServer, err := NewServer(config, deps)
	fatalOnError(err)

	scheduler := cron.NewCronScheduler(config.Kontacts.Cron.TimeZone)
	if backupEnabled(config) {
		fatalOnError(scheduleSqliteBackup(scheduler, db, gStorage, config))
	}
	scheduler.StartAsync()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%v", config.Kontacts.Listener.Port),
		Handler:           kontactsServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go serve(httpServer)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cleanup(scheduler, httpServer, func() {
		if backupEnabled(config) {
			if err := backupSqliteDb(db, gStorage, config); err != nil {
				logg.Error(err)
			}
		}
	})
}

// Migrate creates or updates the db schema & exits
func Migrate(config *shared.ServerConfig, devMode bool) {
	if config.Database.Driver == "sqlite" && config.Database.Sqlite.Dir == "" {
		config.Database.Sqlite.Dir = configDirectory(devMode)
	}

	openAndMigrate(config)
	logg.Info("Database schema is up to date")
}

func openAndMigrate(config *shared.ServerConfig) *gorm.DB {
	db, err := models.OpenDB(config.Database)
	fatalOnError(err)

	fatalOnError(models.AutoMigrate(db))
	return db
}
