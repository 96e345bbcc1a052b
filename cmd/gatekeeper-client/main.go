// ABOUTME: Command-line client that sends Hawk, Basic, or Bearer authenticated requests
// ABOUTME: Verifies the server's Hawk response signature when one is returned

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/gatekeeper/internal/hawk"
)

// options are the parsed command-line settings for one request.
type options struct {
	hawk        bool
	basic       bool
	bearer      string
	id          string
	key         string
	alg         string
	sendAlg     bool
	payload     bool
	contentType string
	data        string
	ext         string
	method      string
	verbose     bool
	timeout     time.Duration
	url         string
}

func parseOptions(args []string, errOut io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gatekeeper-client", flag.ContinueOnError)
	fs.SetOutput(errOut)

	o := &options{}
	fs.BoolVar(&o.hawk, "hawk", false, "use Hawk authentication (requires -id and -key)")
	fs.BoolVar(&o.basic, "basic", false, "use Basic authentication (requires -id and -key)")
	fs.StringVar(&o.bearer, "bearer", "", "use Bearer authentication with this token")
	fs.StringVar(&o.id, "id", "", "client identifier")
	fs.StringVar(&o.key, "key", "", "shared key or password")
	fs.StringVar(&o.alg, "alg", hawk.DefaultAlgorithm, "Hawk hash algorithm")
	fs.BoolVar(&o.sendAlg, "send-alg", false, "send the alg attribute in the Hawk header")
	fs.BoolVar(&o.payload, "payload", true, "include a Hawk payload hash")
	fs.StringVar(&o.contentType, "content-type", "text/plain", "request content type")
	fs.StringVar(&o.data, "data", "", "request body")
	fs.StringVar(&o.ext, "ext", "", "Hawk ext attribute")
	fs.StringVar(&o.method, "method", http.MethodGet, "HTTP method")
	fs.BoolVar(&o.verbose, "verbose", false, "print request and response headers")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, errors.New("exactly one URL is required")
	}
	o.url = fs.Arg(0)
	o.method = strings.ToUpper(o.method)

	selected := 0
	for _, on := range []bool{o.hawk, o.basic, o.bearer != ""} {
		if on {
			selected++
		}
	}
	switch {
	case selected > 1:
		return nil, errors.New("choose one of -hawk, -basic, -bearer")
	case (o.hawk || o.basic) && (o.id == "" || o.key == ""):
		return nil, errors.New("-hawk and -basic require -id and -key")
	case o.hawk && !hawk.Supported(o.alg):
		return nil, fmt.Errorf("unsupported hash algorithm %q", o.alg)
	}
	return o, nil
}

// buildRequest creates the request and sets its Authorization header. The
// returned artifacts are non-nil for Hawk requests.
func buildRequest(ctx context.Context, o *options) (*http.Request, *hawk.Artifacts, error) {
	var body io.Reader
	if o.data != "" {
		body = strings.NewReader(o.data)
	}
	req, err := http.NewRequestWithContext(ctx, o.method, o.url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	if o.data != "" || o.hawk {
		req.Header.Set("Content-Type", o.contentType)
	}

	switch {
	case o.hawk:
		a, err := hawk.Sign(
			hawk.Credentials{ID: o.id, Key: o.key, Algorithm: o.alg},
			req,
			[]byte(o.data),
			hawk.SignOptions{Payload: o.payload, Ext: o.ext, SendAlg: o.sendAlg},
		)
		if err != nil {
			return nil, nil, fmt.Errorf("signing request: %w", err)
		}
		return req, &a, nil
	case o.basic:
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(o.id+":"+o.key)))
	case o.bearer != "":
		req.Header.Set("Authorization", "Bearer "+o.bearer)
	}
	return req, nil, nil
}

func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	o, err := parseOptions(args, errOut)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, artifacts, err := buildRequest(ctx, o)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	if o.verbose {
		gray.Fprintf(errOut, "> %s %s\n", req.Method, req.URL)
		for name, values := range req.Header {
			gray.Fprintf(errOut, "> %s: %s\n", name, strings.Join(values, ", "))
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if o.verbose {
		gray.Fprintf(errOut, "< %s\n", resp.Status)
		for name, values := range resp.Header {
			gray.Fprintf(errOut, "< %s: %s\n", name, strings.Join(values, ", "))
		}
	}

	if artifacts != nil {
		if header := resp.Header.Get("Server-Authorization"); header != "" {
			err := hawk.VerifyServerAuthorization(
				hawk.Credentials{ID: o.id, Key: o.key, Algorithm: o.alg},
				*artifacts, header, resp.Header.Get("Content-Type"), respBody,
			)
			if err != nil {
				color.New(color.FgRed).Fprintf(errOut, "server signature invalid: %v\n", err)
			} else if o.verbose {
				color.New(color.FgGreen).Fprintln(errOut, "server signature verified")
			}
		}
	}

	_, _ = out.Write(respBody)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
}
