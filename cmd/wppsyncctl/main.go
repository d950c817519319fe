package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/daemon"
	"github.com/matheus3301/wppsync/internal/dedupe"
	"github.com/matheus3301/wppsync/internal/ingest"
	"github.com/matheus3301/wppsync/internal/lock"
	"github.com/matheus3301/wppsync/internal/logging"
	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/reconcile"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/store"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/zap"
)

type env struct {
	session string
	cfg     *config.Config
	json    bool
	logger  *zap.Logger
}

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wppsync/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fatal(err)
	}
	path := *configFlag
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fatal(err)
	}
	logger, err := logging.NewConsole(sessionName, cfg.Log.Level)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{session: sessionName, cfg: cfg, json: *jsonFlag, logger: logger}
	switch args[0] {
	case "health":
		err = cmdHealth(ctx, e)
	case "stats":
		err = cmdStats(ctx, e)
	case "chats":
		err = cmdChats(ctx, e)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wppsyncctl messages <jid>")
			os.Exit(1)
		}
		err = cmdMessages(ctx, e, args[1])
	case "migrate":
		err = cmdMigrate(e, args[1:])
	case "replay":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wppsyncctl replay <file.jsonl|->")
			os.Exit(1)
		}
		err = cmdReplay(ctx, e, args[1])
	case "pair":
		err = cmdPair(ctx, e)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppsyncctl [--session <name>] [--config <file>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  health           Query the running daemon's health")
	fmt.Fprintln(os.Stderr, "  stats            Show chat and message counts and sync checkpoints")
	fmt.Fprintln(os.Stderr, "  chats            List chat ids with their message counts")
	fmt.Fprintln(os.Stderr, "  messages <jid>   List the message ids stored for one chat")
	fmt.Fprintln(os.Stderr, "  migrate [down N] Apply (or roll back N) schema migrations")
	fmt.Fprintln(os.Stderr, "  replay <file>    Apply a JSON-lines envelope dump (- for stdin)")
	fmt.Fprintln(os.Stderr, "  pair             Link this session to a phone with a QR code")
}

func fatal(err error) {
	var held *lock.LockHeldError
	if errors.As(err, &held) {
		fmt.Fprintf(os.Stderr, "error: the session is in use (daemon PID %d); stop it first\n", held.Holder.PID)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func cmdHealth(ctx context.Context, e *env) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	statuses, err := daemon.Check(ctx, session.SocketPath(e.session))
	if err != nil {
		if holder, rerr := lock.Read(session.LockPath(e.session)); rerr == nil {
			return fmt.Errorf("daemon PID %d holds the session but does not answer: %w", holder.PID, err)
		}
		return fmt.Errorf("daemon for session %q is not running: %w", e.session, err)
	}
	out := make(map[string]string, len(statuses))
	for svc, st := range statuses {
		if svc == "" {
			svc = "wppsync"
		}
		out[svc] = st.String()
	}
	if e.json {
		outputJSON(out)
		return nil
	}
	for _, svc := range []string{"wppsync", daemon.ServiceReconcile, daemon.ServiceWhatsApp, daemon.ServiceAMQP} {
		fmt.Printf("%-20s %s\n", svc, out[svc])
	}
	return nil
}

// openStore takes the session lock and opens the migrated store.
func openStore(e *env) (*store.DB, func(), error) {
	lk, err := lock.Acquire(session.LockPath(e.session))
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(daemon.StorePath(e.session, e.cfg))
	if err != nil {
		_ = lk.Release()
		return nil, nil, err
	}
	return db, func() {
		_ = db.Close()
		_ = lk.Release()
	}, nil
}

func cmdMigrate(e *env, args []string) error {
	db, closeFn, err := openStore(e)
	if err != nil {
		return err
	}
	defer closeFn()

	var result *store.MigrateResult
	if len(args) >= 1 && args[0] == "down" {
		steps := 1
		if len(args) >= 2 {
			if steps, err = strconv.Atoi(args[1]); err != nil || steps < 1 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}
		result, err = db.MigrateDown(steps)
	} else {
		result, err = db.Migrate()
	}
	if err != nil {
		return err
	}
	if e.json {
		outputJSON(result)
		return nil
	}
	fmt.Printf("Schema version: %d (changed: %v)\n", result.Version, result.Changed)
	return nil
}

type stats struct {
	Session     string            `json:"session"`
	Chats       int64             `json:"chats"`
	Messages    int64             `json:"messages"`
	Checkpoints map[string]string `json:"checkpoints,omitempty"`
}

func collectStats(ctx context.Context, e *env, db *store.DB) (stats, error) {
	q := db.Queries()
	s := stats{Session: e.session, Checkpoints: map[string]string{}}
	var err error
	if s.Chats, err = q.CountChats(ctx, e.session); err != nil {
		return s, err
	}
	if s.Messages, err = q.CountMessages(ctx, e.session, ""); err != nil {
		return s, err
	}
	for _, kind := range []string{"chats", "messages"} {
		for _, field := range []string{"last_sync", "last_count"} {
			key := "history." + kind + "." + field
			v, err := q.SyncState(ctx, e.session, key)
			if err != nil {
				return s, err
			}
			if v != "" {
				s.Checkpoints[key] = v
			}
		}
	}
	return s, nil
}

func printStats(e *env, s stats) {
	if e.json {
		outputJSON(s)
		return
	}
	fmt.Printf("Session:  %s\n", s.Session)
	fmt.Printf("Chats:    %d\n", s.Chats)
	fmt.Printf("Messages: %d\n", s.Messages)
	for k, v := range s.Checkpoints {
		fmt.Printf("%s = %s\n", k, v)
	}
}

func cmdStats(ctx context.Context, e *env) error {
	db, closeFn, err := openStore(e)
	if err != nil {
		return err
	}
	defer closeFn()
	if _, err := db.Migrate(); err != nil {
		return err
	}
	s, err := collectStats(ctx, e, db)
	if err != nil {
		return err
	}
	printStats(e, s)
	return nil
}

type chatSummary struct {
	ID       string `json:"id"`
	Messages int64  `json:"messages"`
}

func cmdChats(ctx context.Context, e *env) error {
	db, closeFn, err := openStore(e)
	if err != nil {
		return err
	}
	defer closeFn()
	if _, err := db.Migrate(); err != nil {
		return err
	}

	q := db.Queries()
	ids, err := q.ListChatIDs(ctx, e.session)
	if err != nil {
		return err
	}
	out := make([]chatSummary, 0, len(ids))
	for _, id := range ids {
		n, err := q.CountMessages(ctx, e.session, id)
		if err != nil {
			return err
		}
		out = append(out, chatSummary{ID: id, Messages: n})
	}
	if e.json {
		outputJSON(out)
		return nil
	}
	for _, c := range out {
		fmt.Printf("%-40s %d\n", c.ID, c.Messages)
	}
	return nil
}

func cmdMessages(ctx context.Context, e *env, jid string) error {
	db, closeFn, err := openStore(e)
	if err != nil {
		return err
	}
	defer closeFn()
	if _, err := db.Migrate(); err != nil {
		return err
	}

	ids, err := db.Queries().ListMessageIDs(ctx, e.session, model.NormalizeJID(jid))
	if err != nil {
		return err
	}
	if e.json {
		outputJSON(ids)
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func cmdReplay(ctx context.Context, e *env, path string) error {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	db, closeFn, err := openStore(e)
	if err != nil {
		return err
	}
	defer closeFn()
	if _, err := db.Migrate(); err != nil {
		return err
	}

	b := bus.New()
	set := reconcile.New(e.session, b, db, e.logger, e.cfg.Sync.Options())
	set.Listen()
	defer set.Unlisten()

	filter := dedupe.NewMemory(e.cfg.Redis.DedupeTTL())
	consumer := ingest.NewConsumer(e.session, b, filter, ingest.Config{}, e.logger)
	rs, err := consumer.Replay(ctx, in)
	e.logger.Info("replay finished",
		zap.Int("applied", rs.Applied),
		zap.Int("skipped", rs.Skipped),
		zap.Int("poisoned", rs.Poisoned),
		zap.Int("distinct_envelopes", filter.Len()))
	if err != nil {
		return err
	}

	s, err := collectStats(ctx, e, db)
	if err != nil {
		return err
	}
	printStats(e, s)
	return nil
}

func cmdPair(ctx context.Context, e *env) error {
	lk, err := lock.Acquire(session.LockPath(e.session))
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()
	if err := session.EnsureDir(e.session); err != nil {
		return err
	}

	adapter, err := wa.NewAdapter(ctx, session.SessionDBPath(e.session), bus.New(), e.logger)
	if err != nil {
		return err
	}
	defer adapter.Disconnect()

	events, err := adapter.StartQRAuth(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return errors.New("pairing ended without a result")
			}
			switch evt.Type {
			case wa.AuthEventQRCode:
				qr, err := wa.RenderQR(evt.QRCode)
				if err != nil {
					return err
				}
				fmt.Println("Scan with WhatsApp > Linked devices:")
				fmt.Println(qr)
			case wa.AuthEventAuthenticated:
				fmt.Printf("Paired as %s. Start wppsyncd to sync.\n", adapter.PhoneNumber())
				return nil
			default:
				return fmt.Errorf("pairing failed: %s", evt.Message)
			}
		}
	}
}
