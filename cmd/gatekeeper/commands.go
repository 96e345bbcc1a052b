// ABOUTME: Administrative subcommands: schema setup, password hashing, ACL checks, cache reset, token issue
// ABOUTME: Each command loads the same config as serve and opens only the backends it needs

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/basic"
	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/gateway"
	"github.com/2389/gatekeeper/internal/jwtauth"
	"github.com/2389/gatekeeper/internal/store"
)

// commandLogger logs warnings and errors only, so command output stays readable.
func commandLogger() *slog.Logger {
	logger, _ := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, stdout)
	return logger
}

func runInitDB(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("init-db")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return errors.New("database.dsn is not configured")
	}

	db, err := store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "schema ready (%s)\n", cfg.Database.Driver)
	return nil
}

func runHashPassword(args []string, stdin io.Reader) error {
	fs, _ := newFlagSet("hash-password")
	cost := fs.Int("cost", 0, "bcrypt cost (0 uses the default)")
	useArgon := fs.Bool("argon2id", false, "hash with argon2id instead of bcrypt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var password string
	switch fs.NArg() {
	case 0:
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	case 1:
		password = fs.Arg(0)
	default:
		return errors.New("hash-password takes at most one password argument")
	}

	var (
		hash string
		err  error
	)
	if *useArgon {
		hash, err = basic.HashArgon2id(password)
	} else {
		hash, err = basic.HashPassword(password, *cost)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func runACLCheck(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("acl-check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return errors.New("usage: gatekeeper acl-check ROLE CONTROLLER ACTION")
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.ACL.Enable {
		return errors.New("acl is not enabled in config")
	}

	components, err := gateway.OpenComponents(ctx, cfg, commandLogger())
	if err != nil {
		return err
	}
	defer components.Close()

	role, controller, action := fs.Arg(0), fs.Arg(1), fs.Arg(2)
	allowed, err := components.ACL.IsAllowed(ctx, role, controller, action)
	if err != nil {
		return fmt.Errorf("evaluating acl: %w", err)
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	fmt.Fprintf(stdout, "%s %s/%s: %s\n", role, controller, action, decision)
	return nil
}

func runInvalidateCache(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("invalidate-cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	components, err := gateway.OpenComponents(ctx, cfg, commandLogger())
	if err != nil {
		return err
	}
	defer components.Close()

	if !components.CacheEnabled() {
		fmt.Fprintln(stdout, "no cache configured")
		return nil
	}
	if err := components.Invalidate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "cache invalidated")
	return nil
}

func runSignJWT(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("sign-jwt")
	sub := fs.String("sub", "", "token subject (required)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	alg := fs.String("alg", "HS256", "signing algorithm")
	aud := fs.String("aud", "", "audience (default: first jwt.audiences entry)")
	iss := fs.String("iss", "", "issuer (default: first jwt.issuers entry)")
	secret := fs.String("secret", "", "signing key (default: the subject's bearer key)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return errors.New("-sub is required")
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("sign-jwt takes no arguments, got %q", fs.Args())
	}

	if *secret == "" || *aud == "" || *iss == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		if *aud == "" {
			*aud = firstOr(cfg.JWT.Audiences, jwtauth.DefaultIdentity)
		}
		if *iss == "" {
			*iss = firstOr(cfg.JWT.Issuers, jwtauth.DefaultIdentity)
		}
		if *secret == "" {
			*secret, err = principalSecret(ctx, cfg, *sub)
			if err != nil {
				return err
			}
		}
	}

	token, err := jwtauth.Issue(*alg, []byte(*secret), map[string]any{
		jwtauth.ClaimSubject:  *sub,
		jwtauth.ClaimAudience: *aud,
		jwtauth.ClaimIssuer:   *iss,
	}, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

// principalSecret returns the bearer key of the principal named sub.
func principalSecret(ctx context.Context, cfg *config.Config, sub string) (string, error) {
	components, err := gateway.OpenComponents(ctx, cfg, commandLogger())
	if err != nil {
		return "", err
	}
	defer components.Close()

	p, err := components.Users.Lookup(ctx, sub)
	if err != nil {
		return "", fmt.Errorf("looking up principal %q: %w", sub, err)
	}
	key := p.KeyFor(auth.MechanismBearer)
	if key == "" {
		return "", fmt.Errorf("principal %q has no bearer key", sub)
	}
	return key, nil
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}

func runHealth(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("health")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(stdout, "healthy")
	return nil
}
