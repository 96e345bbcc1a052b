// ABOUTME: Client-side Hawk signing and Server-Authorization verification
// ABOUTME: Used by gatekeeper-client and by tests to build authentic requests

package hawk

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrResponseNotAuthentic is returned when a Server-Authorization header does
// not match the response.
var ErrResponseNotAuthentic = errors.New("hawk: response not authentic")

// Credentials identify a client and its shared secret.
type Credentials struct {
	ID        string
	Key       string
	Algorithm string // defaults to sha256
}

// SignOptions controls optional parts of a signed request.
type SignOptions struct {
	// Payload includes a hash of the content type and body.
	Payload bool
	// Ext is sent as the ext attribute.
	Ext string
	// SendAlg sends the alg attribute so the server uses Algorithm.
	SendAlg bool
	// Timestamp and Nonce default to now and a random UUID.
	Timestamp time.Time
	Nonce     string
}

// Sign computes a Hawk header for req and sets it as the Authorization
// header. body must be the exact bytes that will be sent. The returned
// Artifacts are needed to verify the server's response.
func Sign(cred Credentials, req *http.Request, body []byte, opts SignOptions) (Artifacts, error) {
	alg := cred.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}
	if opts.Nonce == "" {
		opts.Nonce = uuid.NewString()
	}

	hostport := req.Host
	if hostport == "" {
		hostport = req.URL.Host
	}
	host, port := endpoint(hostport, req.URL.Scheme == "https")

	a := Artifacts{
		TS:     strconv.FormatInt(opts.Timestamp.Unix(), 10),
		Nonce:  opts.Nonce,
		Method: req.Method,
		URI:    req.URL.RequestURI(),
		Host:   host,
		Port:   port,
		Ext:    opts.Ext,
	}
	if opts.Payload {
		h, err := PayloadHash(alg, req.Header.Get("Content-Type"), body)
		if err != nil {
			return Artifacts{}, err
		}
		a.Hash = h
	}

	mac, err := a.MAC(alg, []byte(cred.Key))
	if err != nil {
		return Artifacts{}, err
	}

	header := fmt.Sprintf(`Hawk id="%s", ts="%s", nonce="%s", mac="%s"`, cred.ID, a.TS, a.Nonce, mac)
	if opts.Payload {
		header += fmt.Sprintf(`, hash="%s"`, a.Hash)
	}
	if opts.Ext != "" {
		header += fmt.Sprintf(`, ext="%s"`, opts.Ext)
	}
	if opts.SendAlg {
		header += fmt.Sprintf(`, alg="%s"`, alg)
	}
	req.Header.Set("Authorization", header)
	return a, nil
}

// VerifyServerAuthorization checks a Server-Authorization header against the
// artifacts of the signed request and the received response.
func VerifyServerAuthorization(cred Credentials, a Artifacts, header, contentType string, body []byte) error {
	alg := cred.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}

	p := ParseHeader(header)
	hash, err := PayloadHash(alg, contentType, body)
	if err != nil {
		return err
	}
	if !equalMAC(hash, p.Hash) {
		return fmt.Errorf("%w: payload hash mismatch", ErrResponseNotAuthentic)
	}

	a.Hash = hash
	a.Ext = p.Ext
	mac, err := a.MAC(alg, []byte(cred.Key))
	if err != nil {
		return err
	}
	if !equalMAC(mac, p.MAC) {
		return fmt.Errorf("%w: mac mismatch", ErrResponseNotAuthentic)
	}
	return nil
}
