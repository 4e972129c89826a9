package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"netfeed/internal/analysis"
	"netfeed/internal/capture"
	"netfeed/internal/capture/pcapsource"
	"netfeed/internal/config"
	"netfeed/internal/discovery"
	"netfeed/internal/logging"
	"netfeed/internal/metrics"
	"netfeed/internal/server"
	"netfeed/internal/stream"
	"netfeed/internal/tui"
)

var (
	listenAddr       string
	defaultInterface string
	dashboard        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interface list and the live packet stream",
	Long: `Start the HTTP server. Capture begins when the first subscriber connects to
/ws/live_packets and stops when the last one leaves.

Endpoints:
  GET /api/interfaces     capturable interfaces
  GET /ws/live_packets    live packet stream (WebSocket)
  GET /api/report         HTML summary of the traffic seen so far
  GET /metrics            Prometheus metrics
  GET /healthz            capture state and subscriber count
`,
	RunE: runServe,
}

// bindServeFlags defines serve's flags; the root command shares the same set.
func bindServeFlags() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default from config: :8000)")
	serveCmd.Flags().StringVarP(&defaultInterface, "interface", "i", "", "Interface used when a subscriber does not name one")
	serveCmd.Flags().BoolVar(&dashboard, "dashboard", false, "Show a live terminal dashboard")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Apply flags over config
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = listenAddr
	}
	if cmd.Flags().Changed("interface") {
		cfg.Capture.DefaultInterface = defaultInterface
	}
	// The dashboard owns the terminal; keep log lines off it
	if dashboard && cfg.Log.File == "" {
		cfg.Log.File = "netfeed.log"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	stats := analysis.NewTrafficStats(clockwork.NewRealClock())
	broadcaster := stream.NewBroadcaster(cfg.Capture.QueueSize, logger, m)
	broadcaster.Observe(stats.ObserveBatch)
	go broadcaster.Run(ctx)

	manager := stream.NewManager(cfg.LoopSettings(), pcapsource.New(sourceConfig(cfg.Capture)), broadcaster, logger,
		capture.WithMetrics(m))

	srv := server.New(server.Options{
		Config:           cfg.Server,
		DefaultInterface: cfg.Capture.DefaultInterface,
		Manager:          manager,
		Broadcaster:      broadcaster,
		Stats:            stats,
		Gatherer:         reg,
		Interfaces:       discovery.List,
		Logger:           logger,
	})

	logger.Info("Starting netfeed",
		zap.String("version", Version),
		zap.String("listen", cfg.Server.Listen),
		zap.String("default_interface", cfg.Capture.DefaultInterface))

	if !dashboard {
		return srv.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	status := func() tui.Status {
		st := tui.Status{Subscribers: broadcaster.Len()}
		if loop := manager.Loop(); loop != nil {
			st.Running = loop.State() == capture.StateRunning
			st.Interface = manager.Interface()
		}
		return st
	}
	p := tea.NewProgram(tui.NewDashboardModel(stats, status, cfg.Server.Listen), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		logger.Error("Dashboard failed", zap.Error(err))
	}

	// Quitting the dashboard shuts the server down too
	stop()
	return <-errCh
}

func sourceConfig(c config.CaptureConfig) pcapsource.Config {
	return pcapsource.Config{
		Snaplen:     int32(c.Snaplen),
		Promisc:     c.Promisc,
		ReadTimeout: c.ReadTimeout.Duration,
		BPFFilter:   c.BPFFilter,
	}
}
