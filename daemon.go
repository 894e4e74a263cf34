package main

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/neovim/go-client/nvim"
	"github.com/spf13/cobra"

	"localcompletion/api"
	"localcompletion/engine"
	"localcompletion/logger"
	"localcompletion/metrics"
	"localcompletion/settings"
	"localcompletion/types"
)

type Daemon struct {
	store       *settings.Store
	engine      *engine.Engine
	metrics     *metrics.Collector
	http        *api.Server
	listener    net.Listener
	socketPath  string
	pidPath     string
	clientCount int64
	exitIdle    bool
	ctx         context.Context
	cancel      context.CancelFunc
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the completion daemon the editor connects to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			l := setupLogger(store.Get().LogLevel)
			defer l.Close()

			exitIdle, _ := cmd.Flags().GetBool("debug-immediate-shutdown")
			d, err := NewDaemon(store, exitIdle)
			if err != nil {
				log.Printf("error creating daemon: %v", err)
				return err
			}
			return d.Start()
		},
	}
	cmd.Flags().Bool("debug-immediate-shutdown", false, "Exit as soon as no client is connected")
	return cmd
}

func NewDaemon(store *settings.Store, exitIdle bool) (*Daemon, error) {
	col := metrics.New()
	eng, err := newEngine(store, engine.WithMetrics(col))
	if err != nil {
		return nil, err
	}
	store.OnChange(func(s settings.Settings) {
		logger.SetGlobalLevel(logger.ParseLogLevel(s.LogLevel))
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:      store,
		engine:     eng,
		metrics:    col,
		http:       api.New(eng, store, col),
		socketPath: getSocketPath(),
		pidPath:    getPidPath(),
		exitIdle:   exitIdle,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (d *Daemon) Start() error {
	// Setup logging and PID management
	d.writePidFile()
	defer d.removePidFile()

	// Setup socket
	if err := d.setupSocket(); err != nil {
		return err
	}
	defer d.cleanup()

	log.Printf("daemon listening on socket: %s", d.socketPath)

	// Setup shutdown handling
	d.setupShutdownHandling()

	// Start the HTTP API next to the socket
	go d.serveHTTP()

	// Start connection handling
	go d.acceptConnections()

	// Start idle monitoring
	go d.monitorIdleShutdown()

	// Wait for shutdown
	<-d.ctx.Done()
	log.Printf("daemon shutting down...")
	return nil
}

// serveHTTP exposes the same engine to HTTP editors and the CLI. A busy
// port only disables the HTTP side.
func (d *Daemon) serveHTTP() {
	addr := d.store.Get().HTTPAddr
	if addr == "" {
		return
	}
	if err := d.http.Listen(addr); err != nil {
		log.Printf("http api disabled: %v", err)
	}
}

func (d *Daemon) setupSocket() error {
	// Remove existing socket
	os.Remove(d.socketPath)

	// Listen on Unix socket
	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener
	return nil
}

func (d *Daemon) setupShutdownHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("received shutdown signal")
		d.Stop()
	}()
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				// Server is shutting down
				return
			default:
				log.Printf("error accepting connection: %v", err)
				continue
			}
		}

		atomic.AddInt64(&d.clientCount, 1)
		log.Printf("new client connected, total clients: %d", atomic.LoadInt64(&d.clientCount))
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		atomic.AddInt64(&d.clientCount, -1)
		log.Printf("client disconnected, remaining clients: %d", atomic.LoadInt64(&d.clientCount))
	}()

	// Create Neovim client from the connection
	n, err := nvim.New(conn, conn, conn, log.Printf)
	if err != nil {
		log.Printf("error creating nvim client: %v", err)
		return
	}

	s := newSession(d.ctx, n, d.engine, d.store)
	if err := s.register(); err != nil {
		log.Printf("error registering handlers: %v", err)
		return
	}

	// Serve this connection until it closes or context is done
	if err := n.Serve(); err != nil && err != io.EOF {
		log.Printf("error serving connection: %v", err)
	}
}

func (d *Daemon) monitorIdleShutdown() {
	// In debug mode, shut down immediately when no clients are connected
	if d.exitIdle {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					log.Printf("no clients connected, shutting down daemon immediately")
					d.Stop()
					return
				}
			}
		}
	}

	// Normal mode: wait for timeout period before shutting down
	idleTimer := time.NewTimer(30 * time.Second)
	defer idleTimer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-idleTimer.C:
			if atomic.LoadInt64(&d.clientCount) == 0 {
				log.Printf("no clients connected for timeout period, shutting down daemon")
				d.Stop()
				return
			}
		}

		// Reset timer when no clients
		if atomic.LoadInt64(&d.clientCount) == 0 {
			idleTimer.Reset(5 * time.Second)
		} else {
			idleTimer.Reset(30 * time.Second)
		}
	}
}

func (d *Daemon) Stop() {
	d.engine.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.http.Shutdown(ctx); err != nil {
		log.Printf("error stopping http api: %v", err)
	}
	if d.listener != nil {
		d.listener.Close()
	}
	d.cancel()
}

func (d *Daemon) cleanup() {
	os.Remove(d.socketPath)
}

func (d *Daemon) writePidFile() {
	pid := os.Getpid()
	err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		log.Printf("warning: could not write PID file: %v", err)
	}
	log.Printf("server started with PID %d", pid)
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not remove PID file: %v", err)
	}
}

// statusLabel is what the editor shows in its status line
func statusLabel(s types.Status) string {
	switch s {
	case types.StatusOff:
		return "LocalCompletion: off"
	case types.StatusActive:
		return "LocalCompletion: generating"
	default:
		return "LocalCompletion"
	}
}
