// ABOUTME: Authentication dispatcher selecting Hawk, Basic, or Bearer per request
// ABOUTME: Rejects unconfigured schemes before any authenticator runs and exposes the principal downstream

package dispatch

import (
	"bytes"
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
	"github.com/2389/gatekeeper/internal/hawk"
	"github.com/2389/gatekeeper/internal/jwtauth"
	"github.com/2389/gatekeeper/internal/users"
)

// Failure messages produced by the dispatcher itself.
const (
	MsgIllegalMechanism = "Illegal authentication mechanism: %s"
	MsgNotAuthentic     = "Request not authentic."
	MsgSubjectEmpty     = "Token subject empty."
	MsgUserNotExist     = "User does not exist."
	MsgAccessDenied     = "Access denied."
	MsgNotFound         = "Resource not found."
)

// DefaultMaxBodyBytes caps the request body read for Hawk payload hashing.
const DefaultMaxBodyBytes int64 = 10 << 20

// Principals resolves principal IDs to their keys.
type Principals interface {
	Lookup(ctx context.Context, id string) (*users.Principal, error)
}

// Config wires the dispatcher. A verifier is required for every listed
// mechanism.
type Config struct {
	// Mechanisms in challenge order. Empty disables authentication.
	Mechanisms []auth.Mechanism

	Hawk          *hawk.Verifier
	HawkDisclose  bool
	SignResponses bool
	// MaxBodyBytes limits the body Hawk reads. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Basic         *basic.Verifier
	BasicDisclose bool

	JWT         *jwtauth.Verifier
	JWTDisclose bool

	Principals Principals
	Responder  Responder
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Dispatcher authenticates inbound requests.
type Dispatcher struct {
	cfg       Config
	responder Responder
	logger    *slog.Logger
}

// New validates cfg and returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	for _, m := range cfg.Mechanisms {
		switch {
		case m == auth.MechanismHawk && cfg.Hawk == nil,
			m == auth.MechanismBasic && cfg.Basic == nil,
			m == auth.MechanismBearer && cfg.JWT == nil:
			return nil, fmt.Errorf("mechanism %s configured without a verifier", m)
		case m == auth.MechanismNone:
			return nil, errors.New("mechanism list contains none")
		}
	}
	if len(cfg.Mechanisms) > 0 && cfg.Principals == nil {
		return nil, errors.New("dispatcher requires a principal store")
	}

	responder := cfg.Responder
	if responder == nil {
		responder = TextResponder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Dispatcher{
		cfg:       cfg,
		responder: responder,
		logger:    logger.With("component", "dispatch"),
	}, nil
}

// attempt is the outcome of running one authenticator.
type attempt struct {
	mechanism auth.Mechanism
	principal string
	result    auth.Result
	hawk      *hawk.Request
}

// selectMechanism returns the configured mechanism named by the header's
// scheme token.
func (d *Dispatcher) selectMechanism(header string) (string, auth.Mechanism, bool) {
	scheme := auth.SchemeToken(header)
	mech, ok := auth.ParseScheme(scheme)
	if !ok {
		return scheme, auth.MechanismNone, false
	}
	for _, m := range d.cfg.Mechanisms {
		if m == mech {
			return scheme, mech, true
		}
	}
	return scheme, mech, false
}

// challengeList is sent when the requested scheme is not accepted.
func (d *Dispatcher) challengeList() string {
	names := make([]string, len(d.cfg.Mechanisms))
	for i, m := range d.cfg.Mechanisms {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

func (d *Dispatcher) challenge(m auth.Mechanism) string {
	switch m {
	case auth.MechanismHawk:
		return d.cfg.Hawk.Challenge()
	case auth.MechanismBasic:
		return d.cfg.Basic.Challenge()
	case auth.MechanismBearer:
		return d.cfg.JWT.Challenge()
	default:
		return d.challengeList()
	}
}

func (d *Dispatcher) disclose(m auth.Mechanism) bool {
	switch m {
	case auth.MechanismHawk:
		return d.cfg.HawkDisclose
	case auth.MechanismBasic:
		return d.cfg.BasicDisclose
	case auth.MechanismBearer:
		return d.cfg.JWTDisclose
	default:
		return false
	}
}

// lookupKey resolves id and returns the key for m. found is false when the
// principal does not exist.
func (d *Dispatcher) lookupKey(ctx context.Context, id string, m auth.Mechanism) (key string, found bool, err error) {
	p, err := d.cfg.Principals.Lookup(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up principal: %w", err)
	}
	return p.KeyFor(m), true, nil
}

func (d *Dispatcher) authenticateHawk(ctx context.Context, r *http.Request, body []byte) (attempt, error) {
	req := d.cfg.Hawk.NewRequest(r, body)
	a := attempt{mechanism: auth.MechanismHawk, principal: req.ID(), hawk: req}

	key, found, err := d.lookupKey(ctx, req.ID(), auth.MechanismHawk)
	if err != nil {
		return a, err
	}
	if !found {
		a.result = auth.Failure(MsgNotAuthentic)
		return a, nil
	}
	req.SetKey(key)
	a.result, err = req.Authenticate(ctx)
	return a, err
}

func (d *Dispatcher) authenticateBasic(ctx context.Context, header string) (attempt, error) {
	creds := d.cfg.Basic.Parse(header)
	a := attempt{mechanism: auth.MechanismBasic, principal: creds.User()}

	if !d.cfg.Basic.UsesDirectory() {
		key, found, err := d.lookupKey(ctx, creds.User(), auth.MechanismBasic)
		if err != nil {
			return a, err
		}
		if !found {
			a.result = auth.Failure(MsgNotAuthentic)
			return a, nil
		}
		creds.SetKey(key)
	}

	var err error
	a.result, err = creds.Authenticate(ctx)
	return a, err
}

func (d *Dispatcher) authenticateBearer(ctx context.Context, header string) (attempt, error) {
	token := d.cfg.JWT.Parse(auth.Credentials(header))
	a := attempt{mechanism: auth.MechanismBearer, principal: token.Subject()}

	if token.Subject() == "" {
		a.result = auth.Failure(MsgSubjectEmpty)
		return a, nil
	}
	key, found, err := d.lookupKey(ctx, token.Subject(), auth.MechanismBearer)
	if err != nil {
		return a, err
	}
	if !found {
		a.result = auth.Failure(MsgUserNotExist)
		return a, nil
	}
	token.SetKey(key)
	a.result = token.Authenticate(ctx)
	return a, nil
}

// Middleware authenticates every request before next runs. Authenticated
// requests carry an *auth.AuthContext.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(d.cfg.Mechanisms) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ctx := r.Context()
		header := r.Header.Get("Authorization")

		scheme, mech, ok := d.selectMechanism(header)
		if !ok {
			d.cfg.Metrics.observeAttempt(mech, ResultRejected, time.Since(start))
			logHTTPFailure(d.logger, r, "illegal_mechanism", "scheme", scheme)
			d.responder.Unauthorized(w, r, fmt.Sprintf(MsgIllegalMechanism, scheme), d.challengeList())
			return
		}

		var (
			a   attempt
			err error
		)
		switch mech {
		case auth.MechanismHawk:
			var body []byte
			body, err = readBody(w, r, d.cfg.MaxBodyBytes)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				d.cfg.Metrics.observeAttempt(mech, ResultRejected, time.Since(start))
				logHTTPFailure(d.logger, r, "body_too_large", "limit", tooLarge.Limit)
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			if err == nil {
				a, err = d.authenticateHawk(ctx, r, body)
			}
		case auth.MechanismBasic:
			a, err = d.authenticateBasic(ctx, header)
		case auth.MechanismBearer:
			a, err = d.authenticateBearer(ctx, header)
		}

		if err != nil {
			d.cfg.Metrics.observeAttempt(mech, ResultError, time.Since(start))
			d.logger.Error("authentication error", "mechanism", mech, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if !a.result.Authenticated {
			d.cfg.Metrics.observeAttempt(mech, ResultFailure, time.Since(start))
			logHTTPFailure(d.logger, r, "authentication_failed",
				"mechanism", mech,
				"principal_id", a.principal,
				"message", a.result.Message,
			)
			d.responder.Unauthorized(w, r, a.result.ClientMessage(d.disclose(mech)), d.challenge(mech))
			return
		}

		d.cfg.Metrics.observeAttempt(mech, ResultSuccess, time.Since(start))
		d.logger.Debug("authenticated", "mechanism", mech, "principal_id", a.principal)

		r = r.WithContext(auth.WithAuth(ctx, &auth.AuthContext{
			PrincipalID: a.principal,
			Mechanism:   mech,
		}))

		if a.hawk != nil && d.cfg.SignResponses {
			sw := &signingWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			sw.finish(a.hawk, d.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NotFound is the handler for requests that match no route.
func (d *Dispatcher) NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.responder.NotFound(w, r, MsgNotFound)
	})
}

// readBody drains up to limit bytes of r.Body and replaces it so downstream
// handlers can read it again.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// logHTTPFailure logs an authentication or authorization failure with the
// client address.
func logHTTPFailure(logger *slog.Logger, r *http.Request, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason, "remote_addr", r.RemoteAddr, "method", r.Method, "path", r.URL.Path}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}
