package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"localcompletion/api"
	"localcompletion/engine"
	"localcompletion/logger"
	"localcompletion/metrics"
	"localcompletion/settings"
	"localcompletion/types"
)

const addNewEndpoint = "+ Add new API Endpoint"

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve completions over HTTP only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			logger.SetGlobal(logger.NewLimitedLogger(os.Stderr, logger.ParseLogLevel(store.Get().LogLevel)))

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = store.Get().HTTPAddr
			}

			col := metrics.New()
			eng, err := newEngine(store, engine.WithMetrics(col))
			if err != nil {
				return err
			}
			srv := api.New(eng, store, col)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				eng.Cancel()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("shutdown: %v", err)
				}
			}()
			return srv.Listen(addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default: http_addr setting)")
	return cmd
}

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <file>",
		Short: "Complete a file at a cursor position and print the suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			line, _ := cmd.Flags().GetInt("line")
			col, _ := cmd.Flags().GetInt("col")
			manual, _ := cmd.Flags().GetBool("manual")
			asJSON, _ := cmd.Flags().GetBool("json")

			eng, err := newEngine(store)
			if err != nil {
				return err
			}

			doc := types.DocumentState{
				Path:   args[0],
				Lines:  strings.Split(string(data), "\n"),
				Cursor: types.Position{Line: line, Character: col},
			}
			trigger := types.TriggerAutomatic
			if manual {
				trigger = types.TriggerManual
			}

			suggestions := eng.Request(cmd.Context(), doc, trigger)
			return printSuggestions(cmd.OutOrStdout(), suggestions, asJSON)
		},
	}
	cmd.Flags().Int("line", 0, "Cursor line (0-indexed)")
	cmd.Flags().Int("col", 0, "Cursor byte offset in the line")
	cmd.Flags().Bool("manual", false, "Bypass the history and skip rules")
	cmd.Flags().Bool("json", false, "Print suggestions as JSON")
	return cmd
}

func printSuggestions(w io.Writer, suggestions []types.Suggestion, asJSON bool) error {
	if asJSON {
		if suggestions == nil {
			suggestions = []types.Suggestion{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(suggestions)
	}
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No suggestion")
		return nil
	}
	ghost := ghostText(suggestions[0])
	fmt.Fprint(w, ghost)
	if !strings.HasSuffix(ghost, "\n") {
		fmt.Fprintln(w)
	}
	return nil
}

func ghostText(s types.Suggestion) string {
	var b strings.Builder
	for _, g := range s.Ghost {
		b.WriteString(g.Text)
	}
	return b.String()
}

func endpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage API endpoints",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List endpoints, marking the active one",
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(cmd)
				if err != nil {
					return err
				}
				s := store.Get()
				for _, ep := range s.Endpoints {
					fmt.Fprintln(cmd.OutOrStdout(), endpointLabel(ep, s.ActiveEndpoint))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <url>",
			Short: "Add an endpoint and make it active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore(cmd)
				if err != nil {
					return err
				}
				return addEndpoint(cmd.OutOrStdout(), store, args[0])
			},
		},
		&cobra.Command{
			Use:   "use <url>",
			Short: "Make a known endpoint active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore(cmd)
				if err != nil {
					return err
				}
				if err := store.SetActiveEndpoint(args[0]); err != nil {
					return err
				}
				pushSettings(store)
				fmt.Fprintf(cmd.OutOrStdout(), "Active endpoint: %s\n", store.Get().ActiveEndpoint)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <url>",
			Short: "Forget an endpoint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore(cmd)
				if err != nil {
					return err
				}
				if err := store.RemoveEndpoint(args[0]); err != nil {
					return err
				}
				pushSettings(store)
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "select",
			Short: "Pick the active endpoint interactively",
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(cmd)
				if err != nil {
					return err
				}
				return selectEndpoint(cmd.OutOrStdout(), store)
			},
		},
	)
	return cmd
}

func endpointLabel(ep, active string) string {
	if ep == active {
		return "* " + ep
	}
	return "  " + ep
}

func addEndpoint(w io.Writer, store *settings.Store, raw string) error {
	existed, err := store.AddEndpoint(raw)
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintln(w, "Endpoint already exists")
	}
	pushSettings(store)
	fmt.Fprintf(w, "Active endpoint: %s\n", store.Get().ActiveEndpoint)
	return nil
}

// endpointOptions lists known endpoints followed by the add entry
func endpointOptions(s settings.Settings) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(s.Endpoints)+1)
	for _, ep := range s.Endpoints {
		opts = append(opts, huh.NewOption(endpointLabel(ep, s.ActiveEndpoint), ep))
	}
	return append(opts, huh.NewOption(addNewEndpoint, addNewEndpoint))
}

func selectEndpoint(w io.Writer, store *settings.Store) error {
	var choice string
	err := huh.NewSelect[string]().
		Title("Select API endpoint").
		Options(endpointOptions(store.Get())...).
		Value(&choice).
		Run()
	if err != nil {
		return err
	}

	if choice != addNewEndpoint {
		if err := store.SetActiveEndpoint(choice); err != nil {
			return err
		}
		pushSettings(store)
		fmt.Fprintf(w, "Active endpoint: %s\n", choice)
		return nil
	}

	var raw string
	err = huh.NewInput().
		Title("Enter new API endpoint").
		Placeholder(settings.DefaultEndpoint).
		Validate(func(v string) error {
			return settings.CheckEndpoint(strings.TrimRight(strings.TrimSpace(v), "/"))
		}).
		Value(&raw).
		Run()
	if err != nil {
		return err
	}
	return addEndpoint(w, store, raw)
}

func toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Enable or disable inline suggestions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			enabled, err := store.ToggleEnabled()
			if err != nil {
				return err
			}
			pushSettings(store)
			fmt.Fprintln(cmd.OutOrStdout(), toggleMessage(enabled))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show settings and daemon state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			s := store.Get()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Settings: %s\n", store.Path())
			fmt.Fprintf(w, "Endpoint: %s\n", s.ActiveEndpoint)
			fmt.Fprintf(w, "Enabled:  %t\n", s.InlineSuggestEnabled)

			if running, pid := isDaemonRunning(); running {
				fmt.Fprintf(w, "Daemon:   running (PID %d)\n", pid)
			} else {
				fmt.Fprintln(w, "Daemon:   not running")
			}

			var health api.HealthResponse
			if err := callDaemon(s.HTTPAddr, http.MethodGet, "/healthz", nil, &health); err == nil {
				fmt.Fprintf(w, "Engine:   %s (%d cached)\n", health.Status, health.History)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the completion history of the running daemon",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			if err := callDaemon(store.Get().HTTPAddr, http.MethodPost, "/v1/history/clear", nil, nil); err != nil {
				return fmt.Errorf("clearing history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
			return nil
		},
	})
	return cmd
}

// pushSettings hands a CLI change to a running daemon. A daemon that is
// not running reads the file when it starts.
func pushSettings(store *settings.Store) {
	s := store.Get()
	body, err := json.Marshal(s)
	if err != nil {
		logger.Error("encoding settings: %v", err)
		return
	}
	if err := callDaemon(s.HTTPAddr, http.MethodPut, "/v1/settings", body, nil); err != nil {
		logger.Debug("daemon not updated: %v", err)
	}
}

// callDaemon talks to the HTTP API of a running daemon
func callDaemon(addr, method, path string, body []byte, out any) error {
	if addr == "" {
		return fmt.Errorf("http api disabled")
	}
	req, err := http.NewRequest(method, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
