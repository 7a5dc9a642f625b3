package main

// The start/stop/status/sync verbs run on the CLI side of the process
// boundary: they talk to the runner through the shared SQLite store, the
// pid file, and the admin HTTP API.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"autohelm/internal/config"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/store/sqlite"
	"autohelm/internal/supervisor"
)

const (
	cliTimeout     = 30 * time.Second
	statusEventCap = 5
)

func cliStart(cfg *config.Config, cfgPath string) {
	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening store failed: %v", err)
	}
	defer st.Close()

	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		log.Fatalf("resolving config path failed: %v", err)
	}
	sup := supervisor.New(cfg.Supervisor, st.Runtime(), supervisor.Options{
		Spawn: supervisor.DetachedSpawner([]string{"run", "-config", abs}, cfg.Supervisor.ChildLogPath),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()
	res, err := sup.Start(ctx)
	if err != nil {
		log.Fatalf("start failed: %v", err)
	}
	if res.AlreadyRunning {
		fmt.Printf("runner already active, pid %d\n", res.PID)
		return
	}
	fmt.Printf("runner started, pid %d\n", res.PID)
	fmt.Printf("logs: %s\n", cfg.Supervisor.ChildLogPath)
}

func cliStop(cfg *config.Config) {
	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening store failed: %v", err)
	}
	defer st.Close()

	sup := supervisor.New(cfg.Supervisor, st.Runtime(), supervisor.Options{
		// Ask the controller to wind down trading before any signal, so
		// open positions are swept while the venue is still reachable.
		Graceful: func(ctx context.Context) error {
			return postAdmin(ctx, cfg.App.HTTPAddr, "/api/v1/stop")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := sup.Stop(ctx)
	if err != nil {
		log.Fatalf("stop failed at stage %s: %v", res.Stage, err)
	}
	if res.NotRunning {
		fmt.Println("runner is not active")
		return
	}
	if res.Graceful {
		fmt.Printf("runner pid %d stopped gracefully\n", res.PID)
		return
	}
	fmt.Printf("runner pid %d stopped (%s)\n", res.PID, res.Stage)
}

func cliStatus(cfg *config.Config) {
	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening store failed: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	sup := supervisor.New(cfg.Supervisor, st.Runtime(), supervisor.Options{})
	pst, err := sup.Status(ctx)
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}
	if !pst.Alive {
		fmt.Println("runner: not active")
		if pst.PersistedRunning {
			fmt.Printf("warning: store still claims running (pid %d); run `autohelm sync`\n", pst.PersistedPID)
		}
		printRecentEvents(ctx, cfg.Store.EventLogPath)
		return
	}
	fmt.Printf("runner: active, pid %d\n", pst.PID)

	body, err := getAdmin(ctx, cfg.App.HTTPAddr, "/api/v1/status")
	if err != nil {
		fmt.Printf("admin api unreachable: %v\n", err)
	} else {
		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			fmt.Printf("%s\n", body)
		} else {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("%s\n", out)
		}
	}
	printRecentEvents(ctx, cfg.Store.EventLogPath)
}

// printRecentEvents reads the audit log straight from its file, which
// works whether or not the runner is alive.
func printRecentEvents(ctx context.Context, path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	events, err := eventlog.NewEventStore(path)
	if err != nil {
		return
	}
	defer events.Close()
	recent, err := events.Recent(ctx, "", statusEventCap)
	if err != nil || len(recent) == 0 {
		return
	}
	fmt.Println("recent events (newest first):")
	for _, evt := range recent {
		line := fmt.Sprintf("  %s %s", evt.CreatedAt.Format(time.RFC3339), evt.Type)
		if evt.Symbol != "" {
			line += " " + evt.Symbol
		}
		if len(evt.Detail) > 0 {
			if detail, err := json.Marshal(evt.Detail); err == nil {
				line += " " + string(detail)
			}
		}
		fmt.Println(line)
	}
}

func cliSync(cfg *config.Config) {
	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening store failed: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	// The controller flag is observable only through the admin API; an
	// unreachable runner counts as not running.
	memRunning := false
	if body, err := getAdmin(ctx, cfg.App.HTTPAddr, "/api/v1/status"); err == nil {
		var view struct {
			State string `json:"state"`
		}
		if json.Unmarshal(body, &view) == nil {
			switch view.State {
			case "RUNNING", "STARTING", "STOPPING":
				memRunning = true
			}
		}
	}

	sup := supervisor.New(cfg.Supervisor, st.Runtime(), supervisor.Options{})
	rep, err := sup.Sync(ctx, memRunning)
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	if rep.Consistent {
		fmt.Printf("state consistent (running=%v, source=%s)\n", rep.Running, rep.Source)
		return
	}
	fmt.Printf("state drift detected (source=%s):\n", rep.Source)
	for _, c := range rep.Strings() {
		fmt.Printf("  corrected %s\n", c)
	}
}

// adminBase turns a listen address like ":8686" into a reachable URL.
func adminBase(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

func getAdmin(ctx context.Context, addr, path string) ([]byte, error) {
	return doAdmin(ctx, http.MethodGet, addr, path)
}

func postAdmin(ctx context.Context, addr, path string) error {
	_, err := doAdmin(ctx, http.MethodPost, addr, path)
	return err
}

func doAdmin(ctx context.Context, method, addr, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, adminBase(addr)+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
