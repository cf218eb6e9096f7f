package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamenet/client"
	"gamenet/metrics"
	"gamenet/server"
)

// Entry point for both sides of the engine: -server runs the
// authoritative tick loop, -client runs the predicting client with a
// trivial built-in input generator when -headless is set. CLI parsing
// itself is an external collaborator per spec.md §1; this is the
// contract it must honor, per §6/§7.
func main() {
	serverMode := flag.Bool("server", false, "run the authoritative server")
	clientMode := flag.Bool("client", false, "run the predicting client")

	host := flag.String("host", "0.0.0.0", "bind address (server) or server address (client)")
	port := flag.Int("port", 9000, "UDP port")
	tickRate := flag.Int("tick-rate", 20, "simulation tick rate in Hz")
	loss := flag.Float64("loss", 0, "simulated packet loss, 0.0-1.0")
	latency := flag.Duration("latency", 0, "simulated base one-way latency")
	jitter := flag.Duration("jitter", 0, "simulated latency jitter")
	bandwidth := flag.Int("bandwidth", 0, "simulated bandwidth cap in bytes/sec, 0 = unlimited")
	broadcastBW := flag.Int("broadcast-bw", 0, "server mode: cap on the broadcast phase's own aggregate outbound bytes/sec, 0 = unlimited")
	headless := flag.Bool("headless", true, "client mode: drive input with a built-in generator instead of an external capture source")
	adminAddr := flag.String("admin-addr", "", "server mode: address for the optional metrics/healthz/ws HTTP surface, empty = disabled")
	logPath := flag.String("log-path", "", "log file path, defaults to server.log or client.log")
	metricsURL := flag.String("metrics-url", "", "server mode: collector URL for periodic metrics export, empty = disabled")
	metricsOut := flag.String("metrics-out", "", "path to write a final metrics JSON document on exit, empty = skip")

	flag.Parse()

	if *serverMode && *clientMode {
		fmt.Fprintln(os.Stderr, "error: cannot use both -server and -client")
		os.Exit(1)
	}
	if !*serverMode && !*clientMode {
		fmt.Fprintln(os.Stderr, "error: must specify -server or -client")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *tickRate <= 0 {
		fmt.Fprintln(os.Stderr, "error: -tick-rate must be > 0")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	var err error
	if *serverMode {
		err = runServer(ctx, *host, *port, *tickRate, *loss, *latency, *jitter, *bandwidth, *broadcastBW, *adminAddr, orDefault(*logPath, "server.log"), *metricsURL, *metricsOut)
	} else {
		err = runClient(ctx, *host, *port, *tickRate, *loss, *latency, *jitter, *bandwidth, *headless, orDefault(*logPath, "client.log"), *metricsOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func runServer(ctx context.Context, host string, port, tickRate int, loss float64, latency, jitter time.Duration, bandwidth, broadcastBW int, adminAddr, logPath, metricsURL, metricsOut string) error {
	if err := server.InitLogger(logPath); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer server.SyncLogger()

	cfg := server.DefaultConfig()
	cfg.Host, cfg.Port, cfg.TickRate = host, port, tickRate
	cfg.Loss, cfg.Latency, cfg.Jitter, cfg.Bandwidth = loss, latency, jitter, bandwidth
	cfg.BroadcastBytesPerSec = broadcastBW
	cfg.AdminAddr, cfg.LogPath, cfg.MetricsURL = adminAddr, logPath, metricsURL

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err // fatal SocketError on bind failure, per §7
	}

	var admin *server.AdminServer
	if cfg.AdminAddr != "" {
		admin = server.NewAdminServer(cfg.AdminAddr, srv)
		admin.Start()
		server.Log.Infow("admin surface up", "addr", cfg.AdminAddr)
	}

	stopExport := make(chan struct{})
	if cfg.MetricsURL != "" {
		exporter := metrics.NewExporter(cfg.MetricsURL)
		go exporter.Run(srv.Metrics(), 10*time.Second, stopExport, func(err error) {
			server.Log.Warnw("metrics export failed", "err", err)
		})
	}

	server.Log.Infow("server starting", "host", host, "port", port, "tickRate", tickRate)
	runErr := srv.Run(ctx)
	close(stopExport)

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = admin.Stop(shutdownCtx)
	}
	if metricsOut != "" {
		if err := srv.Metrics().Save(metricsOut); err != nil {
			server.Log.Warnw("metrics save failed", "err", err)
		}
	}
	server.Log.Info("server stopped")
	return runErr
}

func runClient(ctx context.Context, host string, port, tickRate int, loss float64, latency, jitter time.Duration, bandwidth int, headless bool, logPath, metricsOut string) error {
	if err := client.InitLogger(logPath); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer client.SyncLogger()

	cfg := client.DefaultConfig()
	cfg.Host, cfg.Port, cfg.TickRate = host, port, tickRate
	cfg.Loss, cfg.Latency, cfg.Jitter, cfg.Bandwidth = loss, latency, jitter, bandwidth
	cfg.Headless, cfg.LogPath = headless, logPath

	c, err := client.NewClient(cfg)
	if err != nil {
		return err
	}
	if headless {
		c.InputFunc = randomWanderInput()
	}

	client.Log.Infow("client connecting", "host", host, "port", port, "headless", headless)
	runErr := c.Run(ctx)

	if metricsOut != "" {
		if err := c.Metrics().Save(metricsOut); err != nil {
			client.Log.Warnw("metrics save failed", "err", err)
		}
	}
	client.Log.Info("client stopped")
	return runErr
}

// randomWanderInput is the built-in input generator used in -headless
// mode, standing in for the keyboard/gamepad capture the core explicitly
// leaves to an external collaborator (spec.md §1).
func randomWanderInput() client.InputFunc {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	heading := rng.Float64() * 2 * math.Pi
	return func() (float32, float32, uint8) {
		heading += (rng.Float64() - 0.5) * 0.3
		return float32(math.Cos(heading)), float32(math.Sin(heading)), 0
	}
}
