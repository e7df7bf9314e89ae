package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wildlink.gg/internal/persistence/journal"
	"wildlink.gg/internal/transport/ws"
)

func main() {
	var (
		addr   = flag.String("addr", ":8080", "http listen address")
		logDir = flag.String("log-dir", "", "audit log directory (empty = no audit log)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lmicroseconds)
	hub := ws.NewHub(logger)

	if *logDir != "" {
		audit := journal.NewWriter(*logDir, "relay")
		defer audit.Close()
		hub.SetAudit(audit)
		logger.Printf("audit log in %s", *logDir)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := hub.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP wildlink_relay_peers Currently connected peers.\n")
		fmt.Fprintf(rw, "# TYPE wildlink_relay_peers gauge\n")
		fmt.Fprintf(rw, "wildlink_relay_peers %d\n", m.Peers)

		fmt.Fprintf(rw, "# HELP wildlink_relay_frames_in_total Trade frames accepted for broadcast.\n")
		fmt.Fprintf(rw, "# TYPE wildlink_relay_frames_in_total counter\n")
		fmt.Fprintf(rw, "wildlink_relay_frames_in_total %d\n", m.FramesIn)

		fmt.Fprintf(rw, "# HELP wildlink_relay_frames_out_total Frames written to peer connections.\n")
		fmt.Fprintf(rw, "# TYPE wildlink_relay_frames_out_total counter\n")
		fmt.Fprintf(rw, "wildlink_relay_frames_out_total %d\n", m.FramesOut)

		fmt.Fprintf(rw, "# HELP wildlink_relay_frames_dropped_total Frames dropped on slow peer queues.\n")
		fmt.Fprintf(rw, "# TYPE wildlink_relay_frames_dropped_total counter\n")
		fmt.Fprintf(rw, "wildlink_relay_frames_dropped_total %d\n", m.Dropped)
	})
	mux.Handle("/v1/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
