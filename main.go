package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"localcompletion/engine"
	"localcompletion/logger"
	"localcompletion/settings"
)

const appName = "localcompletion"

// execDir is where the socket, pid and log files live
func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	return filepath.Dir(execPath)
}

// setupLogger logs to a file in the same directory as the executable.
// Caller must defer Close.
func setupLogger(level string) *logger.LimitedLogger {
	l, err := logger.Open(execDir(), logger.ParseLogLevel(level))
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	log.SetOutput(l)
	return l
}

func getSocketPath() string {
	return filepath.Join(execDir(), appName+".sock")
}

func getPidPath() string {
	return filepath.Join(execDir(), appName+".pid")
}

func isDaemonRunning() (bool, int) {
	data, err := os.ReadFile(getPidPath())
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}

// addConfigFlag registers the settings file flag shared by every command
func addConfigFlag(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to the settings file (default: user config dir)")
}

// openStore loads the settings file named by --config, or the default one
func openStore(cmd *cobra.Command) (*settings.Store, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := settings.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return settings.Open(path)
}

// newEngine builds an engine from the stored settings and keeps it bound to
// later changes
func newEngine(store *settings.Store, opts ...engine.Option) (*engine.Engine, error) {
	cfg, err := store.Get().EngineConfig()
	if err != nil {
		return nil, err
	}
	eng := engine.New(cfg, opts...)
	if err := store.Bind(eng); err != nil {
		return nil, err
	}
	return eng, nil
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Inline code completion backed by a local OpenAI-compatible model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// A missing .env is normal
			_ = godotenv.Load()
		},
		// Editors spawn the binary without arguments and talk over stdio
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(daemonArgs(cmd)...)
		},
	}
	addConfigFlag(root.PersistentFlags())

	root.AddCommand(
		daemonCmd(),
		clientCmd(),
		serveCmd(),
		completeCmd(),
		endpointCmd(),
		toggleCmd(),
		statusCmd(),
		historyCmd(),
	)
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
