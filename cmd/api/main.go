package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentra.org/internal/auth"
	"sentra.org/internal/httpapi"
	"sentra.org/internal/ids"
	"sentra.org/internal/obs"
	"sentra.org/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("SENTRA_TOKEN_SECRET")
	if secret == "" {
		log.Fatal("SENTRA_TOKEN_SECRET is required")
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// Store wiring: Postgres backs identity and policy data; revocation
	// counters live in Redis when configured, otherwise in Postgres too.
	// With no DSN at all the server runs fully in memory for development.
	var (
		registry    auth.IdentityRegistry
		policy      auth.PolicyStore
		generations auth.GenerationStore
		events      auth.LoginEventStore
		db          *sql.DB
	)
	if dsn := os.Getenv("SENTRA_PG_DSN"); dsn != "" {
		pg, err := auth.OpenPG(dsn)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer pg.Close()
		registry, policy, generations, events = pg, pg, pg, pg
		db = pg.DB()
	} else {
		log.Print("SENTRA_PG_DSN not set, running with the in-memory store")
		mem := devStore()
		registry, policy, generations, events = mem, mem, mem, mem
	}
	if url := os.Getenv("SENTRA_REDIS_URL"); url != "" {
		rs, err := auth.OpenRedis(url)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer rs.Close()
		generations, events = rs, rs
	}

	var opts []auth.AuthenticatorOption
	if events != nil {
		opts = append(opts, auth.WithLoginEvents(events))
	}
	if ttl := os.Getenv("SENTRA_SESSION_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("parse SENTRA_SESSION_TTL: %v", err)
		}
		opts = append(opts, auth.WithSessionTTL(d))
	}
	authn, err := auth.NewAuthenticator(codec, auth.ContextTenantSource{}, registry, generations, opts...)
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	var bearer *auth.BearerVerifier
	if bs := os.Getenv("SENTRA_BEARER_SECRET"); bs != "" {
		bearer, err = auth.NewBearerVerifier(bs, "sentra")
		if err != nil {
			log.Fatalf("bearer verifier: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	grants, err := policy.RoleGrants(ctx)
	cancel()
	if err != nil || len(grants) == 0 {
		if err != nil {
			log.Printf("load role grants: %v, falling back to defaults", err)
		}
		grants = auth.DefaultGrants()
	}

	api := httpapi.New(httpapi.Config{
		Authenticator: authn,
		Codec:         codec,
		Resolver:      auth.NewResolver(grants),
		Generations:   generations,
		Events:        events,
		Bearer:        bearer,
		ReadyProbe:    httpapi.ReadyProbe{DB: db},
		Version:       version,
	})

	addr := os.Getenv("SENTRA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sentra-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// devStore seeds an in-memory store with a tenant and an administrator so
// a fresh checkout can log in without a database.
func devStore() *auth.MemStore {
	mem := auth.NewMemStore()
	mem.AddTenant(auth.Tenant{ID: 1, Name: "dev", Plan: auth.PlanEnterprise})

	password := os.Getenv("SENTRA_DEV_PASSWORD")
	if password == "" {
		return mem
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash dev password: %v", err)
	}
	admin := auth.User{
		ID:           ids.New(),
		TenantID:     1,
		Login:        "admin",
		DisplayName:  "Dev Admin",
		PasswordHash: hash,
		Status:       auth.StatusActive,
	}
	mem.AddUser(admin)
	mem.AddToGroup(admin.ID, auth.GroupAdministrators)
	log.Printf("dev admin ready: tenant=1 login=admin id=%s", admin.ID)
	return mem
}
