package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/auth"
	"fleetgate/internal/config"
	"fleetgate/internal/device"
	"fleetgate/internal/logging"
	"fleetgate/internal/operator"
	"fleetgate/internal/registry"
	"fleetgate/internal/server"
	"fleetgate/internal/session"
	"fleetgate/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	st := store.NewPostgres(db, cfg.MigrationsDir, logging.New("store"))
	if err := st.Init(context.Background()); err != nil {
		// No listeners may open against an unmigrated schema.
		log.Fatalf("store init: %v", err)
	}

	opts := registry.Options{BinaryFrames: cfg.BinaryFrames}

	deviceReg := registry.New(logging.New("registry/device"), opts)
	deviceOrch := device.New(deviceReg, st, logging.New("device"))
	deviceReg.SetHandler(deviceOrch)
	deviceReaper := session.NewReaper(deviceOrch.Sessions(), deviceReg,
		cfg.ReapInterval(), cfg.UnauthMaxAge(), logging.New("reaper/device"))

	operatorReg := registry.New(logging.New("registry/operator"), opts)
	operatorOrch := operator.New(operatorReg, st, logging.New("operator"))
	operatorReg.SetHandler(operatorOrch)
	operatorReaper := session.NewReaper(operatorOrch.Sessions(), operatorReg,
		cfg.ReapInterval(), cfg.UnauthMaxAge(), logging.New("reaper/operator"))

	reapCtx, stopReapers := context.WithCancel(context.Background())
	defer stopReapers()
	go deviceReaper.Run(reapCtx)
	go operatorReaper.Run(reapCtx)

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry(),
		Issuer: "fleetgate",
	}

	deviceSrv, err := server.NewTLSServer(cfg.DeviceAddr, cfg.TLSCertFile, cfg.TLSKeyFile,
		server.NewDeviceRouter(deviceReg))
	if err != nil {
		log.Fatalf("device listener: %v", err)
	}
	operatorSrv, err := server.NewTLSServer(cfg.OperatorAddr, cfg.TLSCertFile, cfg.TLSKeyFile,
		server.NewOperatorRouter(server.OperatorDeps{
			Socket:      operatorReg,
			Store:       st,
			TokenConfig: tokenCfg,
			StaticDir:   cfg.StaticDir,
			Log:         logging.New("admin"),
		}))
	if err != nil {
		log.Fatalf("operator listener: %v", err)
	}

	go func() {
		log.Printf("device listener on %s", cfg.DeviceAddr)
		if err := server.Run(deviceSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("device listener: %v", err)
		}
	}()
	go func() {
		log.Printf("operator listener on %s", cfg.OperatorAddr)
		if err := server.Run(operatorSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("operator listener: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	stopReapers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = operatorSrv.Shutdown(shutdownCtx)
	_ = deviceSrv.Shutdown(shutdownCtx)
	log.Println("stopped")
}
