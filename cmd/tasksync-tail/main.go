// ABOUTME: Operator CLI that tails a task conversation through the sync engine
// ABOUTME: Renders paired turns with color and sends stdin lines as messages

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/tasksync/internal/config"
	"github.com/2389/tasksync/internal/dedupe"
	"github.com/2389/tasksync/internal/ledger"
	"github.com/2389/tasksync/internal/message"
	"github.com/2389/tasksync/internal/sendlock"
	"github.com/2389/tasksync/internal/session"
	"github.com/2389/tasksync/internal/transport"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	taskID := flag.String("task", "", "Task id to tail (required)")
	agentID := flag.String("agent", "", "Agent id for sends")
	mode := flag.String("mode", "async", "Execution mode: sync or async")
	flag.Parse()

	if *taskID == "" {
		color.Red("Error: -task is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *taskID, *agentID, message.ExecutionMode(*mode)); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// setupLogging configures slog from the logging section.
func setupLogging(lc config.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg *config.Config, taskID, agentID string, mode message.ExecutionMode) error {
	token := cfg.Gateway.Token
	if token == "" {
		token = os.Getenv("TASKSYNC_TOKEN")
	}
	tokens := transport.NewTokenSource(token)

	if tokens.ExpiringWithin(time.Minute) {
		color.Yellow("Warning: token expires within a minute; sends may start failing")
	}

	httpClient := transport.NewHTTPClient(cfg.Gateway.URL, tokens, nil)
	wsSubscriber := transport.NewWSSubscriber(cfg.Gateway.WSURL, tokens, nil)

	dedupeWindow := cfg.Sync.DedupeWindow
	if dedupeWindow == 0 {
		dedupeWindow = 30 * time.Second
	}

	deps := session.Deps{
		Lister:     httpClient,
		Subscriber: wsSubscriber,
		Sender:     httpClient,
		Aggregator: upsertAggregator{},
		Ledgers:    ledger.NewRegistry(nil),
		Locks:      sendlock.NewTable(nil),
		Guard:      dedupe.NewGuard(dedupeWindow, 256),
	}

	sess, err := session.Open(ctx, message.Task{ID: taskID, AgentID: agentID, Mode: mode}, deps, session.Config{
		PageLimit: cfg.Sync.PageLimit,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	cyan := color.New(color.FgCyan)
	cyan.Printf("tailing task %s on %s (%s mode)\n", taskID, cfg.Gateway.URL, mode)
	fmt.Println("Type a message and press Enter to send. Ctrl+C to quit.")
	fmt.Println()

	render := newRenderer(sess)
	render.flush()

	// Stdin lines become sends.
	inputCh := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			inputCh <- scanner.Text()
		}
		close(inputCh)
	}()

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			render.flush()
		case line, ok := <-inputCh:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, err := sess.Send(ctx, message.Text(line)); err != nil {
				color.Red("send failed: %v", err)
			}
			render.flush()
		}
	}
}

// renderer prints ledger growth incrementally.
type renderer struct {
	sess    *session.Session
	printed int
	conn    transport.ConnState
}

func newRenderer(sess *session.Session) *renderer {
	return &renderer{sess: sess, conn: transport.ConnDisconnected}
}

// flush prints messages that arrived since the last call, plus connection
// status changes.
func (r *renderer) flush() {
	if state := r.sess.ConnState(); state != r.conn {
		r.conn = state
		dim := color.New(color.Faint)
		dim.Printf("[connection: %s]\n", state)
	}

	msgs := r.sess.Messages()
	if len(msgs) < r.printed {
		// The authoritative refetch after a sync send can shrink the view.
		r.printed = 0
		fmt.Println(strings.Repeat("-", 60))
	}
	for _, m := range msgs[r.printed:] {
		printMessage(m)
	}
	r.printed = len(msgs)
}

func printMessage(m message.Message) {
	user := color.New(color.FgCyan)
	agent := color.New(color.FgGreen)
	tool := color.New(color.FgYellow)
	dim := color.New(color.Faint)

	prefix := agent.Sprint("← ")
	if m.IsUser() {
		prefix = user.Sprint("→ ")
	}

	switch m.Content.Kind {
	case message.KindText:
		fmt.Printf("%s%s", prefix, m.Content.Text)
	case message.KindToolCall:
		tool.Printf("%s[tool] %s", prefix, m.Content.ToolCall.Name)
	case message.KindToolResult:
		dim.Printf("%s[result %s]", prefix, m.Content.ToolResult.ToolCallID)
	case message.KindReasoning:
		dim.Printf("%s[reasoning]", prefix)
	case message.KindData:
		dim.Printf("%s[data] %s", prefix, truncate(string(m.Content.Data), 60))
	}

	if m.InProgress() {
		dim.Print(" …")
	}
	if m.SendFailed {
		color.New(color.FgRed).Print(" [send failed]")
	}
	fmt.Println()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// upsertAggregator treats each stream delta as a complete message object
// and upserts it by id into the current view. The gateway's richer partial
// deltas are assembled server-side before they reach this client.
type upsertAggregator struct{}

func (upsertAggregator) Aggregate(current []message.Message, state any, deltas []json.RawMessage) ([]message.Message, any) {
	out := append([]message.Message(nil), current...)
	for _, d := range deltas {
		var m message.Message
		if err := json.Unmarshal(d, &m); err != nil || m.ID == "" {
			continue
		}
		replaced := false
		for i := range out {
			if out[i].ID == m.ID {
				out[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, m)
		}
	}
	return out, state
}
