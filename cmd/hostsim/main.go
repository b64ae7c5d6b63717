// Standalone native-host simulator. It answers the backend protocol over gRPC
// and websocket so the shell server can run against a real transport.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/ashureev/batteryshell/internal/bridge"
	"github.com/ashureev/batteryshell/internal/gateway"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	grpcAddr := getEnv("HOSTSIM_GRPC_ADDR", ":50051")
	wsAddr := getEnv("HOSTSIM_WS_ADDR", ":8090")
	sim := gateway.NewSimulator(gateway.SimulatorConfig{
		DelayMin: getEnvDuration("SIM_DELAY_MIN", 500*time.Millisecond),
		DelayMax: getEnvDuration("SIM_DELAY_MAX", 1500*time.Millisecond),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		slog.Error("Failed to listen", "addr", grpcAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	bridge.NewGRPCHost(sim, logger).Register(grpcServer)
	go func() {
		slog.Info("gRPC host listening", "addr", grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC host failed", "error", err)
			stop()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/host", bridge.NewWebSocketHost(sim, logger))
	srv := &http.Server{Addr: wsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("WebSocket host listening", "addr", wsAddr, "path", "/host")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("WebSocket host failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down host simulator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("WebSocket host forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	slog.Info("Host simulator stopped")
}
