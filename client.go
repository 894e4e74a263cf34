package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"localcompletion/logger"
)

// Client relays an editor's stdio to the daemon socket
type Client struct {
	socketPath string
	daemonArgs []string
}

func NewClient(daemonArgs ...string) *Client {
	return &Client{
		socketPath: getSocketPath(),
		daemonArgs: daemonArgs,
	}
}

func clientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Connect stdio to the daemon, starting it if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(daemonArgs(cmd)...)
		},
	}
}

// daemonArgs carries the flags a spawned daemon must share with its client
func daemonArgs(cmd *cobra.Command) []string {
	var args []string
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		args = append(args, "--config", path)
	}
	return args
}

func runClient(args ...string) error {
	client := NewClient(args...)
	if err := client.EnsureDaemonRunning(); err != nil {
		return fmt.Errorf("ensuring daemon is running: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	return nil
}

func (c *Client) Connect() error {
	// Connect to daemon
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Relay between stdin/stdout and socket
	go func() {
		io.Copy(conn, os.Stdin)
		conn.Close()
	}()

	io.Copy(os.Stdout, conn)
	return nil
}

func (c *Client) EnsureDaemonRunning() error {
	running, pid := isDaemonRunning()
	if running {
		logger.Debug("daemon already running with PID %d", pid)
		return nil
	}
	return c.startDaemon()
}

func (c *Client) startDaemon() error {
	// Start daemon in background
	logger.Debug("starting daemon...")

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	// Start the daemon process
	argv := append([]string{exe, "daemon"}, c.daemonArgs...)
	_, err = os.StartProcess(exe, argv, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, nil, nil},
	})
	if err != nil {
		return err
	}
	// Wait for daemon to start
	return c.waitForDaemon()
}

func (c *Client) waitForDaemon() error {
	for range 50 { // Wait up to 5 seconds
		if running, _ := isDaemonRunning(); running {
			if _, err := os.Stat(c.socketPath); err == nil {
				logger.Debug("daemon started successfully")
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon failed to start within timeout")
}
