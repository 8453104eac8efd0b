// Command chatdesk runs the access-control API and its operator subcommands.
//
//	chatdesk [serve]
//	chatdesk migrate [up|down N|version]
//	chatdesk seed [-admin-email E -admin-password P -admin-name N -json]
//	chatdesk grant -email E -role R [-revoke]
//	chatdesk jobs [trigger NAME|warm|prune|stats]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/chatdesk/chatdesk/cmd/chatdesk/cli"
	"github.com/chatdesk/chatdesk/internal/access"
	"github.com/chatdesk/chatdesk/internal/app"
	"github.com/chatdesk/chatdesk/internal/audit"
	"github.com/chatdesk/chatdesk/internal/auth"
	"github.com/chatdesk/chatdesk/internal/content"
	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/platform/migrate"
	"github.com/chatdesk/chatdesk/internal/platform/supervise"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/roles"
	"github.com/chatdesk/chatdesk/internal/users"
	"github.com/chatdesk/chatdesk/jobs"
	"github.com/chatdesk/chatdesk/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		runner := migrate.NewRunner(migrations.FS, cfg.PGDSN, logger)
		return cli.MigrateCommand(runner, args, os.Stdout, os.Stderr)
	case "seed":
		return seed(ctx, cfg, logger, args)
	case "grant":
		return grant(ctx, cfg, logger, args)
	case "jobs":
		return jobsCommand(ctx, cfg, args, os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (serve, migrate, seed, grant, jobs)\n", command)
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	if cfg.MigrateOnStart {
		if err := migrate.NewRunner(migrations.FS, cfg.PGDSN, logger).Up(); err != nil {
			logger.Error("migrate on start", slog.Any("error", err))
			return 1
		}
	}

	svc, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer svc.Close(logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	rbacMiddleware := rbac.Middleware{Logger: logger, Metrics: svc.metrics}
	resources := make([]app.ResourceRoutes, 0, len(access.Kinds()))
	for _, kind := range access.Kinds() {
		resources = append(resources, app.ResourceRoutes{
			Kind:    kind,
			Content: content.NewHandler(logger, svc.content, rbacMiddleware, kind),
			Access:  access.NewHandler(logger, svc.access, rbacMiddleware, kind),
		})
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            svc.metrics,
		AuthHandler:        auth.NewHandler(logger, svc.auth, cfg.LoginLimitPerMin),
		AuthService:        svc.auth,
		RBACMiddleware:     rbacMiddleware,
		PermissionsHandler: permissions.NewHandler(logger, svc.permissions, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, svc.roles, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, svc.users, rbacMiddleware),
		Resources:          resources,
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(svc.pool)), rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		HealthChecks:       svc.healthChecks(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	sup := supervise.New("chatdesk-api", logger, supervise.Config{ShutdownTimeout: cfg.ShutdownTimeout})
	sup.Add(supervise.NewHTTPService(server, cfg.ShutdownTimeout))

	logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped", slog.Any("error", err))
		return 1
	}
	logger.Info("server stopped")
	return 0
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	email := fs.String("admin-email", cfg.SeedAdminEmail, "email of the first administrator")
	password := fs.String("admin-password", cfg.SeedAdminPassword, "password of the first administrator")
	name := fs.String("admin-name", "Administrator", "display name of the first administrator")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	svc, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer svc.Close(logger)

	seeder := cli.NewSeedCLI(svc.permissions, svc.roles, svc.users)
	return seeder.SeedCommand(ctx, cli.SeedOptions{
		AdminEmail:    *email,
		AdminPassword: *password,
		AdminName:     *name,
		JSONOutput:    *asJSON,
	})
}

func grant(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	email := fs.String("email", "", "user email")
	role := fs.String("role", "", "role name")
	revoke := fs.Bool("revoke", false, "remove the role instead of granting it")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	svc, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer svc.Close(logger)

	return cli.NewGrantCLI(svc.users, svc.roles).GrantCommand(ctx, cli.GrantOptions{
		Email:  *email,
		Role:   *role,
		Revoke: *revoke,
	})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	jc, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = jc.Close() }()

	action := "stats"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "inspect queue: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		return 0
	case "trigger", "warm", "prune":
		name := action
		if action == "trigger" {
			if len(args) < 2 {
				fmt.Fprintln(stderr, "usage: chatdesk jobs trigger <audit:prune|rbac:cache_warm>")
				return 2
			}
			name = args[1]
		}
		info, err := jc.Trigger(ctx, name)
		if err != nil {
			fmt.Fprintf(stderr, "trigger %s: %v\n", name, err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s (id %s, queue %s)\n", info.Type, info.ID, info.Queue)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown jobs action %q (stats, trigger, warm, prune)\n", action)
		return 2
	}
}
