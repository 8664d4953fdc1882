package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/httpapi"
	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/internal/gc"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/pkg/log"
	"github.com/matrix-auth/core/pkg/otel/traces"
	"github.com/matrix-auth/core/session"
	"github.com/matrix-auth/core/store/postgres"
)

type serveOptions struct {
	config     string
	listenAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Run the authorization server",
		Example: "authd serve config.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			options.config = args[0]
			return runServe(options)
		},
	}

	cmd.Flags().StringVar(&options.listenAddr, "listen-addr", "", "override web.listenAddr from the config file")
	return cmd
}

func newLogger(level, format string) (log.Logger, error) {
	var logLevel logrus.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = logrus.DebugLevel
	case "", "info":
		logLevel = logrus.InfoLevel
	case "error":
		logLevel = logrus.ErrorLevel
	default:
		return nil, fmt.Errorf("log level is not one of debug, info, error: %s", level)
	}

	var formatter logrus.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = &logrus.TextFormatter{DisableColors: true}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("log format is not one of text, json: %s", format)
	}

	return &logrus.Logger{
		Out:       os.Stderr,
		Formatter: formatter,
		Level:     logLevel,
		Hooks:     make(logrus.LevelHooks),
	}, nil
}

func runServe(options serveOptions) error {
	data, err := os.ReadFile(options.config)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", options.config, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", options.config, err)
	}
	if options.listenAddr != "" {
		cfg.Web.ListenAddr = options.listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.Infof("config issuer: %s", cfg.Issuer)

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	storage := postgres.New(db)
	clients := oauth2client.New(storage)
	hasher := identity.DefaultHasher()
	identities := identity.New(storage, hasher)
	sessions := session.New(storage)
	oracle, err := newStaticOracle()
	if err != nil {
		return fmt.Errorf("initializing signing oracle: %w", err)
	}

	cookieKey := cfg.cookieKey()
	now := func() time.Time { return time.Now().UTC() }

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := initTracing(cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Sampler)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := traces.InstrumentHandler(r)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	grantIDFromPath := func(r *http.Request) (int64, error) {
		return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	}
	completePath := func(grantID int64) string {
		id := strconv.FormatInt(grantID, 10)
		return "/authorize/" + id + "?id=" + id
	}
	// /consent is reached via the completion handler's ConsentPath redirect,
	// which carries the completion URL (itself containing ?id=) as
	// return_to. The grant id the consent page acts on is nested inside
	// that return_to value, not a top-level query parameter of /consent.
	grantIDFromReturnTo := func(r *http.Request) (int64, error) {
		returnTo := r.URL.Query().Get("return_to")
		u, err := url.Parse(returnTo)
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(u.Query().Get("id"), 10, 64)
	}

	discovery := &httpapi.DiscoveryHandler{Issuer: cfg.Issuer}
	router.Handle("/.well-known/openid-configuration", discovery)
	router.Handle("/jwks.json", &httpapi.JWKSHandler{Oracle: oracle})

	authorize := &httpapi.AuthorizeHandler{
		Storage:      storage,
		Clients:      clients,
		Policy:       grant.DefaultPolicy(),
		CompletePath: completePath,
		Now:          now,
	}
	router.Handle("/authorize", authorize)

	complete := &httpapi.CompletionHandler{
		Storage:     storage,
		Clients:     clients,
		Sessions:    sessions,
		Oracle:      oracle,
		GrantID:     grantIDFromPath,
		LoginPath:   func(returnTo string) string { return "/login?return_to=" + returnTo },
		ReauthPath:  func(returnTo string) string { return "/login?reauth=1&return_to=" + returnTo },
		ConsentPath: func(returnTo string) string { return "/consent?return_to=" + returnTo },
		Now:         now,
	}
	complete.Cookies.Key = cookieKey
	router.Handle("/authorize/{id:[0-9]+}", complete)

	consent := &httpapi.ConsentHandler{
		Storage:      storage,
		Clients:      clients,
		GrantID:      grantIDFromReturnTo,
		CompletePath: completePath,
	}
	consent.Cookies.Key = cookieKey
	router.Handle("/consent", consent)

	login := &httpapi.LoginHandler{Identity: identities}
	login.Cookies.Key = cookieKey
	router.Handle("/login", login)

	logout := &httpapi.LogoutHandler{Storage: storage, Identity: identities}
	logout.Cookies.Key = cookieKey
	router.Handle("/logout", logout)

	register := &httpapi.RegisterHandler{Identity: identities}
	register.Cookies.Key = cookieKey
	router.Handle("/register", register)

	token := &httpapi.TokenHandler{
		Storage: storage,
		Clients: clients,
		Hasher:  hasher,
		Now:     now,
	}
	router.Handle("/token", token)

	introspect := &httpapi.IntrospectionHandler{Storage: storage, Clients: clients, Hasher: hasher}
	router.Handle("/introspect", introspect)

	server := &http.Server{
		Addr:    cfg.Web.ListenAddr,
		Handler: router,
	}

	sweeper := &gc.Sweeper{
		Storage:         storage,
		Logger:          logger,
		GrantTTL:        parseDurationOr(cfg.Expiry.GrantTTL, grant.DefaultPolicy().TTL),
		RefreshTokenTTL: parseDurationOr(cfg.Expiry.RefreshTokenTTL, 30*24*time.Hour),
	}

	var gr run.Group
	{
		listener, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", server.Addr, err)
		}
		gr.Add(func() error {
			logger.Infof("listening on %s", server.Addr)
			return server.Serve(listener)
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			logger.Debugf("starting graceful shutdown")
			if err := server.Shutdown(ctx); err != nil {
				logger.Errorf("graceful shutdown: %v", err)
			}
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		gr.Add(func() error {
			return sweeper.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Infof("%v, shutdown now", err)
	}
	return nil
}

func initTracing(endpoint, sampler string) (func(context.Context) error, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing OTLP collector: %w", err)
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName("authd"),
	))
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}
	if sampler == "" {
		sampler = "always_on"
	}
	return traces.InitTracerProvider(context.Background(), res, conn, sampler)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
