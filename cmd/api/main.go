package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/englishbuds/internal/config"
	"github.com/ovaphlow/englishbuds/internal/course"
	courserepo "github.com/ovaphlow/englishbuds/internal/course/repo"
	"github.com/ovaphlow/englishbuds/internal/events"
	"github.com/ovaphlow/englishbuds/internal/oidc"
	oidcrepo "github.com/ovaphlow/englishbuds/internal/oidc/repo"
	"github.com/ovaphlow/englishbuds/internal/profile"
	profilerepo "github.com/ovaphlow/englishbuds/internal/profile/repo"
	"github.com/ovaphlow/englishbuds/internal/router"
	"github.com/ovaphlow/englishbuds/internal/user"
	userrepo "github.com/ovaphlow/englishbuds/internal/user/repo"
	"github.com/ovaphlow/englishbuds/pkg/database"
	"github.com/ovaphlow/englishbuds/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting englishbuds api")

	cfg, err := config.ServerFromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	db, err := database.ConnectX(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	users := userrepo.NewUserRepo(db)
	refresh := oidcrepo.NewRefreshRepo(db)
	profiles := profilerepo.NewProfileRepo(db)
	courses := courserepo.NewCourseRepo(db)

	if cfg.EnsureTables {
		setupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		// everything else references users
		tables := []struct {
			name   string
			ensure func(context.Context) error
		}{
			{"users", users.EnsureTable},
			{"refresh_sessions", refresh.EnsureTable},
			{"profiles", profiles.EnsureTable},
			{"courses", courses.EnsureTable},
		}
		for _, t := range tables {
			if err := t.ensure(setupCtx); err != nil {
				sugar.Fatalf("ensure %s table: %v", t.name, err)
			}
		}
		cancel()
	}

	userSvc := user.NewUserService(users, user.BcryptHasher{Cost: cfg.BcryptCost})
	userSvc.MaxFailed = cfg.MaxFailed
	userSvc.LockMinutes = cfg.LockMinutes

	oidcSvc, err := oidc.NewOIDCService(refresh, cfg.Issuer)
	if err != nil {
		sugar.Fatalf("init signing key: %v", err)
	}
	oidcSvc.AccessTTL = cfg.AccessTokenTTL
	oidcSvc.RefreshTTL = cfg.RefreshTokenTTL

	profileSvc := profile.NewService(profiles, sugar)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			sugar.Warnw("redis ping failed; profile reads fall back to postgres", "addr", cfg.RedisAddr, "err", err)
		}
		cancel()
		profileSvc.WithCache(profile.NewRedisCache(rdb, cfg.ProfileCacheTTL))
		sugar.Infow("profile cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.ProfileCacheTTL)
	}

	hub := events.NewHub(sugar)

	handler := router.RegisterRoutes(sugar, router.Handlers{
		Auth:     oidc.NewHandler(oidcSvc, userSvc, hub, sugar),
		Profiles: profile.NewHandler(profileSvc, hub, sugar),
		Events:   events.NewHandler(hub, sugar),
		Courses:  course.NewHandler(course.NewService(courses, sugar), sugar),
	})

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr, "issuer", cfg.Issuer)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}

	// websocket connections are hijacked and not tracked by Shutdown
	hub.Close()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
