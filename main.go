package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dice-match-system/handlers"
	"dice-match-system/middleware"
	"dice-match-system/repository"
	"dice-match-system/services"
	"dice-match-system/store"
	"dice-match-system/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		AppName: "dice-match-system",
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	clock := clockwork.NewRealClock()

	st := openStore()
	defer st.Close()

	sessions := repository.NewSessionRepository(st, clock)
	matches := repository.NewMatchRepository(st, clock)
	invitations := repository.NewInvitationRepository(st, clock)

	// --- Collaborator service clients ---
	serviceToken := mustEnv("MATCH_SERVICE_TOKEN")
	social := &services.SocialGraphClient{CollaboratorClient: services.NewCollaboratorClient(mustEnv("SOCIAL_SERVICE_URL"), serviceToken)}
	profiles := &services.ProfileClient{CollaboratorClient: services.NewCollaboratorClient(mustEnv("PROFILE_SERVICE_URL"), serviceToken)}
	ranking := &services.RankingClient{CollaboratorClient: services.NewCollaboratorClient(mustEnv("RANKING_SERVICE_URL"), serviceToken)}
	tournaments := &services.TournamentClient{CollaboratorClient: services.NewCollaboratorClient(mustEnv("TOURNAMENT_SERVICE_URL"), serviceToken)}
	authClient := services.NewAuthServiceClient(mustEnv("AUTH_SERVICE_URL"), serviceToken)

	// --- Core services ---
	monitor := services.NewAbandonmentMonitor(matches, ranking, clock)
	engine := services.NewSearchJoinEngine(sessions, clock)
	promotion := services.NewPromotionService(sessions, matches, monitor, clock)
	invites := services.NewInviteService(invitations, sessions, matches, social, profiles, clock)
	matchmaking := &services.MatchmakingService{
		Sessions:            sessions,
		Engine:              engine,
		Promotion:           promotion,
		Invites:             invites,
		Social:              social,
		Profiles:            profiles,
		Ranking:             ranking,
		Tournaments:         tournaments,
		Clock:               clock,
		CollaboratorBackoff: services.DefaultSearchBackoff,
	}
	matchService := services.NewMatchService(matches, monitor, clock)
	streams := services.NewStreamService(sessions, matches)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := workers.NewReaperWorker(sessions, invitations, matches, clock)
	if err := reaper.Start(ctx); err != nil {
		log.Fatal("failed to start reaper:", err)
	}
	defer reaper.Shutdown()

	// Re-arm abandonment watchers for matches that were live before a restart.
	if err := monitor.Resume(ctx); err != nil {
		log.Printf("⚠️  Failed to resume abandonment watchers: %v", err)
	}

	handlers.SetupMatchmakingRoutes(app, matchmaking, streams, authClient)
	handlers.SetupMatchRoutes(app, matchService, invites, streams, authClient)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	monitor.StopAll()
	_ = app.ShutdownWithContext(context.Background())
}

// openStore picks the document store backend from STORE_DRIVER:
// "postgres" (default), "redis", or "memory" for local development.
func openStore() store.Store {
	driver := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if driver == "" {
		driver = "postgres"
	}

	switch driver {
	case "postgres":
		dsn := mustEnv("DATABASE_URL")
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}
		st, err := store.NewPostgresStore(db)
		if err != nil {
			log.Fatal("failed to initialize document store:", err)
		}
		log.Println("📦 Using Postgres document store")
		return st

	case "redis":
		opts, err := redis.ParseURL(mustEnv("REDIS_URL"))
		if err != nil {
			log.Fatal("invalid REDIS_URL:", err)
		}
		log.Println("📦 Using Redis document store")
		return store.NewRedisStore(redis.NewClient(opts))

	case "memory":
		log.Println("📦 Using in-memory document store (single instance only)")
		return store.NewMemoryStore()

	default:
		log.Fatalf("unknown STORE_DRIVER %q (want postgres, redis, or memory)", driver)
		return nil
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s environment variable not set", key)
	}
	return v
}
