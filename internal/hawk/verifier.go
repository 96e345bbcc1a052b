// ABOUTME: Server-side Hawk request verification and response signing
// ABOUTME: A Verifier holds configuration; a Request holds one inbound request's state

package hawk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/nonce"
)

// Failure messages returned in auth.Result.
const (
	MsgUserDenied          = "User denied."
	MsgAlgorithmNotAllowed = "Algorithm not allowed."
	MsgDuplicateNonce      = "Duplicate nonce."
	MsgNotAuthentic        = "Request not authentic."
	MsgTooFarInFuture      = "Request too far into future."
	MsgExpired             = "Request expired."
	MsgPayloadMismatch     = "Payload mismatch."
)

// DefaultAlgorithm is used when no algorithms are configured.
const DefaultAlgorithm = "sha256"

// ErrNotAuthenticated is returned when a response is signed for a request
// that has not been successfully authenticated.
var ErrNotAuthenticated = errors.New("hawk: request not authenticated")

// Config configures a Verifier.
type Config struct {
	// Algorithms the server accepts; the first is the default. Defaults to sha256.
	Algorithms []string
	// Expire is the allowed clock skew in either direction. Defaults to 60s.
	Expire time.Duration
	// Nonces records seen nonces. Required.
	Nonces nonce.Store
	// Now returns the current time. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Verifier authenticates Hawk requests. It is safe for concurrent use.
type Verifier struct {
	algorithms []string
	expire     time.Duration
	nonces     nonce.Store
	now        func() time.Time
	logger     *slog.Logger

	// nonceMu serialises the nonce lookup and record.
	nonceMu sync.Mutex
}

// NewVerifier validates cfg and returns a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Nonces == nil {
		return nil, errors.New("hawk: nonce store is required")
	}
	algs := append([]string(nil), cfg.Algorithms...)
	if len(algs) == 0 {
		algs = []string{DefaultAlgorithm}
	}
	for i, alg := range algs {
		algs[i] = strings.TrimSpace(alg)
		if !Supported(algs[i]) {
			return nil, fmt.Errorf("hawk: %w: %q", ErrUnknownAlgorithm, alg)
		}
	}
	if cfg.Expire <= 0 {
		cfg.Expire = nonce.DefaultExpire
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Verifier{
		algorithms: algs,
		expire:     cfg.Expire,
		nonces:     cfg.Nonces,
		now:        cfg.Now,
		logger:     cfg.Logger.With("component", "hawk"),
	}, nil
}

// Algorithms returns the accepted algorithms, default first.
func (v *Verifier) Algorithms() []string {
	return append([]string(nil), v.algorithms...)
}

// Challenge returns the WWW-Authenticate value sent with a failed Hawk attempt.
func (v *Verifier) Challenge() string {
	return fmt.Sprintf(`Hawk ts="%d", alg="%s"`, v.now().Unix(), strings.Join(v.algorithms, ","))
}

// NewRequest captures the state of one inbound request. body is the raw
// request body; the caller is responsible for restoring r.Body.
func (v *Verifier) NewRequest(r *http.Request, body []byte) *Request {
	host, port := endpoint(r.Host, r.TLS != nil)
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	return &Request{
		v:           v,
		params:      ParseHeader(r.Header.Get("Authorization")),
		method:      r.Method,
		uri:         uri,
		host:        host,
		port:        port,
		contentType: r.Header.Get("Content-Type"),
		body:        body,
	}
}

// Request is the verification state of one inbound request. It must not be
// reused across requests.
type Request struct {
	v      *Verifier
	params Params
	key    []byte

	method      string
	uri         string
	host        string
	port        string
	contentType string
	body        []byte

	alg           string
	authenticated bool
}

// Params returns the parsed Authorization header.
func (r *Request) Params() Params {
	return r.params
}

// Param returns one header attribute and whether it was sent.
func (r *Request) Param(name string) (string, bool) {
	return r.params.Get(name)
}

// ID returns the client identifier from the header.
func (r *Request) ID() string {
	return r.params.ID
}

// SetKey sets the shared secret of the principal named by ID.
func (r *Request) SetKey(key string) {
	r.key = []byte(key)
}

// Authenticated reports whether Authenticate succeeded.
func (r *Request) Authenticated() bool {
	return r.authenticated
}

// artifacts returns the request values covered by the MAC.
func (r *Request) artifacts(hash, ext string) Artifacts {
	return Artifacts{
		TS:     r.params.TS,
		Nonce:  r.params.Nonce,
		Method: r.method,
		URI:    r.uri,
		Host:   r.host,
		Port:   r.port,
		Hash:   hash,
		Ext:    ext,
	}
}

// negotiate picks the algorithm for this request. The alg attribute wins over
// an alg token inside ext; without either the server default is used.
func (r *Request) negotiate() (string, bool) {
	requested := r.params.Alg
	if requested == "" {
		requested, _ = extAlgorithm(r.params.Ext)
	}
	if requested == "" {
		return r.v.algorithms[0], true
	}
	for _, alg := range r.v.algorithms {
		if alg == requested {
			return alg, true
		}
	}
	return requested, false
}

// Authenticate verifies the request. Client-side problems are reported in
// the Result; an error means the nonce store failed. A nonce the store
// cannot hold fails as not authentic.
func (r *Request) Authenticate(ctx context.Context) (auth.Result, error) {
	logger := r.v.logger.With("id", r.params.ID)

	if len(r.key) == 0 {
		logger.Debug("no key set for principal")
		return auth.Failure(MsgUserDenied), nil
	}

	alg, ok := r.negotiate()
	if !ok {
		logger.Debug("algorithm not allowed", "alg", alg)
		return auth.Failure(MsgAlgorithmNotAllowed), nil
	}

	duplicate, err := r.checkAndRecordNonce(ctx)
	if errors.Is(err, nonce.ErrUnstorable) {
		logger.Debug("nonce rejected by store", "nonce", r.params.Nonce)
		return auth.Failure(MsgNotAuthentic), nil
	}
	if err != nil {
		return auth.Result{}, err
	}
	if duplicate {
		logger.Debug("duplicate nonce", "nonce", r.params.Nonce)
		return auth.Failure(MsgDuplicateNonce), nil
	}

	var payloadHash string
	if r.params.Has(ParamHash) {
		payloadHash, err = PayloadHash(alg, r.contentType, r.body)
		if err != nil {
			return auth.Result{}, err
		}
	}

	serverMAC, err := r.artifacts(payloadHash, r.params.Ext).MAC(alg, r.key)
	if err != nil {
		return auth.Result{}, err
	}
	if !equalMAC(serverMAC, r.params.MAC) {
		logger.Debug("mac mismatch")
		return auth.Failure(MsgNotAuthentic), nil
	}

	// A non-numeric timestamp is treated as the epoch and fails as expired.
	ts, _ := strconv.ParseInt(r.params.TS, 10, 64)
	expire := int64(r.v.expire / time.Second)
	delta := ts - r.v.now().Unix()
	switch {
	case delta > expire:
		logger.Debug("timestamp outside window", "delta", delta, "threshold", expire)
		return auth.Failure(MsgTooFarInFuture), nil
	case -delta > expire:
		logger.Debug("timestamp outside window", "delta", delta, "threshold", expire)
		return auth.Failure(MsgExpired), nil
	}

	if r.params.Has(ParamHash) && !equalMAC(payloadHash, r.params.Hash) {
		logger.Debug("payload mismatch")
		return auth.Failure(MsgPayloadMismatch), nil
	}

	r.alg = alg
	r.authenticated = true
	if r.params.Has(ParamHash) {
		logger.Debug("authenticated")
	} else {
		logger.Debug("authenticated, payload hash omitted by client")
	}
	return auth.Success(), nil
}

// checkAndRecordNonce reports whether the nonce was seen before and records
// it otherwise.
func (r *Request) checkAndRecordNonce(ctx context.Context) (bool, error) {
	r.v.nonceMu.Lock()
	defer r.v.nonceMu.Unlock()

	seen, err := r.v.nonces.Exists(ctx, r.params.Nonce)
	if err != nil {
		return false, fmt.Errorf("looking up nonce: %w", err)
	}
	if seen {
		return true, nil
	}
	if err := r.v.nonces.Record(ctx, r.params.Nonce); err != nil {
		return false, fmt.Errorf("recording nonce: %w", err)
	}
	return false, nil
}

// ServerAuthorization builds the Server-Authorization header value for the
// response to an authenticated request. ext is optional.
func (r *Request) ServerAuthorization(contentType string, body []byte, ext string) (string, error) {
	if !r.authenticated {
		return "", ErrNotAuthenticated
	}

	hash, err := PayloadHash(r.alg, contentType, body)
	if err != nil {
		return "", err
	}
	mac, err := r.artifacts(hash, ext).MAC(r.alg, r.key)
	if err != nil {
		return "", err
	}

	header := fmt.Sprintf(`Hawk mac="%s", hash="%s"`, mac, hash)
	if ext != "" {
		header += fmt.Sprintf(`, ext="%s"`, ext)
	}
	return header, nil
}

// endpoint splits a Host header into host and port, defaulting the port from
// the scheme.
func endpoint(hostport string, tls bool) (string, string) {
	if host, port, err := net.SplitHostPort(hostport); err == nil {
		return host, port
	}
	if tls {
		return hostport, "443"
	}
	return hostport, "80"
}
