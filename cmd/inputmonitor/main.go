// inputmonitor is a demo process for the input transport: it opens a
// channel pair, feeds one end from an in-process synthetic publisher,
// drains the other end with the batching/resampling consumer,
// and exposes live stats through a tray icon and an optional
// websocket dashboard.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vkvm/internal/channel"
	"vkvm/internal/config"
	"vkvm/internal/consumer"
	"vkvm/internal/debugui"
	"vkvm/internal/events"
	"vkvm/internal/message"
	"vkvm/internal/publisher"
	"vkvm/internal/tray"
)

var (
	version     = "0.1.0"
	showVer     = flag.Bool("version", false, "Show version")
	verbose     = flag.Bool("verbose", false, "Log every consumed event")
	noResample  = flag.Bool("no-resample", false, "Disable touch-sample resampling")
	noTray      = flag.Bool("no-tray", false, "Run headless, without a tray icon")
	dashboard   = flag.Bool("dashboard", false, "Start the websocket diagnostics dashboard")
	dashboardAt = flag.String("dashboard-addr", ":7070", "Dashboard listen address")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("inputmonitor version %s\n", version)
		return
	}

	cfgMgr, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("warning: failed to load config: %v", err)
	}
	cfg := cfgMgr.Get()
	if *verbose {
		cfg.Debug.Verbose = true
	}
	if *noResample {
		cfg.Transport.ResampleEnabled = false
	}
	if *dashboard {
		cfg.Debug.DashboardEnabled = true
	}
	if *dashboardAt != "" {
		cfg.Debug.DashboardAddr = *dashboardAt
	}
	cfgMgr.Set(cfg)

	server, client, err := channel.OpenPair("inputmonitor")
	if err != nil {
		log.Fatalf("failed to open channel pair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	pub := publisher.New(server, nil)
	c := consumer.New(client, events.DefaultFactory{}, cfg.Transport.ResampleEnabled)

	go runDemoPublisher(pub, cfg.Debug.Verbose)
	go runConsumeLoop(c, cfg.Debug.Verbose)

	if cfg.Debug.DashboardEnabled {
		startDashboard(c, cfg.Debug.DashboardAddr)
	}

	if *noTray {
		log.Println("inputmonitor running headless. Press Ctrl+C to stop.")
		waitForSignal()
		return
	}

	runTray(c)
}

// runDemoPublisher feeds a small synthetic motion stream so the
// consumer loop has something to drain; a real deployment would wire
// PublishMotionEvent/PublishKeyEvent to an actual input source
// instead.
func runDemoPublisher(pub *publisher.Publisher, verbose bool) {
	var seq uint32
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	props := []message.PointerProperties{{ID: 0, ToolType: message.ToolFinger}}
	var x float32
	for t := range ticker.C {
		seq++
		var c message.PointerCoords
		c.SetAxisValue(message.AxisX, x)
		c.SetAxisValue(message.AxisY, 0)
		x += 1
		action := message.ActionMove
		if seq == 1 {
			action = message.ActionDown
		}
		err := pub.PublishMotionEvent(
			seq, int32(seq), 1, message.SourceClassPointer, 0, [32]byte{},
			int32(action), 0, 0, 0, 0, 0, 0,
			0, t.UnixNano(),
			message.Transform{}, message.Transform{},
			0, 0, 0, 0,
			props, []message.PointerCoords{c},
		)
		if err != nil {
			if verbose {
				log.Printf("demo publisher: send failed, stopping: %v", err)
			}
			return
		}
	}
}

func runConsumeLoop(c *consumer.Consumer, verbose bool) {
	for {
		seq, ev, err := c.Consume(true, time.Now().UnixNano())
		if err != nil {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		if verbose {
			log.Printf("consumed seq=%d event=%T", seq, ev)
		}
		if err := c.Finish(seq, true); err != nil {
			log.Printf("finish failed for seq=%d: %v", seq, err)
		}
	}
}

func startDashboard(c *consumer.Consumer, addr string) {
	hub := debugui.NewHub(func() int64 { return time.Now().UnixNano() })
	go hub.Run()
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			hub.Publish(c.Stats())
		}
	}()
	go func() {
		if err := serveDashboard(addr, hub); err != nil {
			log.Printf("dashboard server error: %v", err)
		}
	}()
}

func serveDashboard(addr string, hub *debugui.Hub) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)
	log.Printf("dashboard listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func runTray(c *consumer.Consumer) {
	t := tray.New("Input Transport Monitor")
	statusID := t.AddMenuItem("Idle", nil)
	t.AddSeparator()
	t.AddMenuItem("Quit", func() { t.Stop() })

	stop := make(chan struct{})
	go tray.RunStatusUpdater(t, statusID, c.Stats, 500*time.Millisecond, stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		close(stop)
		t.Stop()
	}()

	t.Run()
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
