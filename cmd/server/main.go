package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeus75017/anogram-server/internal/auth"
	"github.com/zeus75017/anogram-server/internal/secure"
	"github.com/zeus75017/anogram-server/internal/server"
	"github.com/zeus75017/anogram-server/internal/store"
)

func main() {
	log.Println("Starting Anogram realtime server...")

	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database at %s: %v", cfg.DatabasePath, err)
	}
	defer st.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	cipher := secure.NewCipher(cfg.EncryptionSecret)

	gateway := server.NewGateway(st, verifier, cipher)
	gateway.Start()

	mux := server.SetupRoutes(gateway)
	httpServer := server.CreateServer(cfg.Port, mux)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received signal %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := gateway.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Printf("Gateway shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
