package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/practice-room-server/internal/batch"
	"github.com/iliyamo/practice-room-server/internal/checkin"
	"github.com/iliyamo/practice-room-server/internal/clock"
	"github.com/iliyamo/practice-room-server/internal/config"
	"github.com/iliyamo/practice-room-server/internal/database"
	"github.com/iliyamo/practice-room-server/internal/handler"
	"github.com/iliyamo/practice-room-server/internal/notify"
	"github.com/iliyamo/practice-room-server/internal/operations"
	"github.com/iliyamo/practice-room-server/internal/processor"
	"github.com/iliyamo/practice-room-server/internal/queue"
	"github.com/iliyamo/practice-room-server/internal/repository"
	"github.com/iliyamo/practice-room-server/internal/router"
	"github.com/iliyamo/practice-room-server/internal/scheduler"
	"github.com/iliyamo/practice-room-server/internal/session"
	"github.com/iliyamo/practice-room-server/internal/sessionlog"
	"github.com/iliyamo/practice-room-server/internal/snapshot"
	"github.com/iliyamo/practice-room-server/internal/ws"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments use the environment

	cfg := config.Load()
	loc := cfg.Location()
	clk := clock.System{}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("mysql connect failed: %v", err)
	}
	defer db.Close()

	memberRepo := repository.NewMemberRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	logRepo := repository.NewSessionLogRepo(db)

	// Redis carries the delayed tasks and the crash-recovery snapshot.
	// Without it the server still runs, on in-process timers and an
	// in-memory snapshot that will not survive a restart.
	rdb := config.NewRedisClient()
	var (
		sched scheduler.Scheduler
		store snapshot.Store
	)
	if rdb != nil {
		rs := scheduler.NewRedis(rdb)
		sched = rs
		store = snapshot.NewRedis(rdb)
		go rs.Run(context.Background())
	} else {
		log.Printf("redis unavailable, using in-memory scheduler and snapshot store")
		sched = scheduler.NewMemory()
		store = snapshot.NewMemory()
	}

	basic := time.Duration(cfg.BasicMinutes) * time.Minute
	manager := session.NewManager(clk, loc, basic, sched, store)

	finalizer := sessionlog.New(logRepo, nil)
	proc := processor.New(manager, finalizer, notify.LogNotifier{})
	proc.Register(sched)

	hub := ws.NewHub(manager.SessionListJSON)
	manager.Subscribe(hub.Broadcast)
	manager.Start(context.Background())

	loader := batch.NewLoader(reservationRepo, manager, clk, loc)
	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	restored, err := manager.Restore(bootCtx)
	if err != nil {
		log.Printf("snapshot restore failed, starting cold: %v", err)
	}
	if !restored {
		if err := loader.LoadToday(bootCtx); err != nil {
			log.Printf("reservation load failed: %v", err)
		}
	}
	cancel()
	go loader.Run(context.Background())

	go func() {
		if err := queue.StartSessionLogConsumer(); err != nil {
			log.Printf("session log consumer stopped: %v", err)
		}
	}()

	checkSvc := checkin.NewService(memberRepo, manager, clk, loc)
	opsSvc := operations.NewService(manager, finalizer, clk, loc)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterSessions(
		e, cfg, rdb,
		handler.NewCheckInHandler(checkSvc),
		handler.NewOpsHandler(opsSvc),
		handler.NewSessionHandler(manager, loader),
		hub,
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, zone=%s)", addr, cfg.Env, cfg.Timezone)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
