package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicweb/internal/api"
	"clinicweb/internal/classify"
	"clinicweb/internal/config"
	"clinicweb/internal/dashboard"
	appLog "clinicweb/internal/log"
	"clinicweb/internal/model"
	"clinicweb/internal/session"
	"clinicweb/internal/store"
	"clinicweb/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values; they override the file and env.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	snapshot   bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("clinicweb starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "env_file", flags.envFile)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"api_url", conf.APIURL,
		"timezone", loc.String(),
		"week_start", conf.WeekStart,
		"refresh", conf.Refresh,
		"request_timeout", conf.RequestTimeout().String(),
		"basic_auth", conf.BasicAuth != nil,
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	client := api.NewClient(conf.APIURL, api.WithTimeout(conf.RequestTimeout()))
	sess := session.New(client, session.NewFileTokenStore(conf.TokenPath))
	client.SetTokenSource(sess)
	client.OnUnauthorized(sess.Teardown)

	st := store.New(client)
	dash := dashboard.New(st, loc, conf.Refresh, nil)

	if err := sess.Hydrate(ctx); err != nil {
		appLog.Error("session restore failed", err)
	}

	if flags.once {
		if err := runOnce(ctx, sess, st, dash); err != nil {
			appLog.Error("one-shot run failed", err)
			os.Exit(1)
		}
		return
	}

	srv, err := web.NewServer(web.Options{
		Config:      conf,
		API:         client,
		Session:     sess,
		Store:       st,
		Dashboard:   dash,
		BaseContext: ctx,
		Debug:       flags.debug,
	})
	if err != nil {
		appLog.Error("failed to build web server", err)
		os.Exit(1)
	}

	if sess.Authenticated() {
		if err := dash.Mount(ctx); err != nil {
			appLog.Error("dashboard mount failed", err, "refresh", conf.Refresh)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	if flags.snapshot {
		runSnapshot(ctx, srv, sess)
		cancel()
	}

	if err := <-errCh; err != nil {
		appLog.Error("HTTP server failed", err)
		dash.Unmount()
		os.Exit(1)
	}
	dash.Unmount()
	appLog.Info("clinicweb exiting")
}

// runOnce fetches the appointment list once and logs the dashboard summary.
func runOnce(ctx context.Context, sess *session.Session, st *store.Store, dash *dashboard.Dashboard) error {
	u, ok := sess.User()
	if !ok {
		return errors.New("no stored session; sign in through the web UI first")
	}
	list, err := st.FetchAll(ctx)
	if err != nil {
		return err
	}
	sum := dash.Summary(u)
	kv := []any{
		"user", sum.UserName,
		"appointments", len(list),
		"pending", sum.Pending,
		"confirmed", sum.Confirmed,
		"completed", sum.Completed,
		"cancelled", classify.CountByStatus(list, model.StatusCancelled),
	}
	if sum.Next != nil {
		kv = append(kv, "next", sum.Next.DayLabel+" "+sum.Next.TimeLabel, "next_service", sum.Next.Service)
	}
	appLog.Info("appointments summary", kv...)
	return nil
}

// runSnapshot waits for the listener, captures the printable calendar and
// returns. Failures are logged; the caller shuts down either way.
func runSnapshot(ctx context.Context, srv *web.Server, sess *session.Session) {
	if !sess.Authenticated() {
		appLog.Error("snapshot skipped", errors.New("no stored session"))
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(300 * time.Millisecond):
	}
	if err := srv.Snapshot(ctx); err != nil {
		appLog.Error("snapshot failed", err)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./clinicweb.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with CLINIC_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Restore the session, fetch appointments once, log a summary and exit")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Serve, capture the printable calendar PNG once and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging and panic stack traces")

	flag.Parse()

	return cfg
}
