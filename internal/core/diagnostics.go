package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/batchpush/internal/logging"
	"github.com/JonMunkholm/batchpush/internal/transport"
)

// Probe names accepted by Diagnostics.Probe.
const (
	ProbeConnectivity = "connectivity"
	ProbeCrossOrigin  = "cross_origin"
	ProbeCredentialed = "credentialed"
)

// ProbeNames lists every probe in the order RunAll reports them.
var ProbeNames = []string{ProbeConnectivity, ProbeCrossOrigin, ProbeCredentialed}

// DefaultProbeOrigin is used for cross-origin probes when the client has no
// origin configured.
const DefaultProbeOrigin = "http://localhost"

// DefaultHealthPaths are tried in order; a 404 or 405 moves to the next.
var DefaultHealthPaths = []string{"/api/health", "/"}

// ProbeResult is the advisory outcome of one probe.
type ProbeResult struct {
	Name       string        `json:"name"`
	OK         bool          `json:"ok"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	Path       string        `json:"path,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Report collects every probe against one endpoint.
type Report struct {
	BaseURL string        `json:"base_url"`
	Origin  string        `json:"origin"`
	Probes  []ProbeResult `json:"probes"`
}

// OK reports whether every probe passed.
func (r Report) OK() bool {
	for _, p := range r.Probes {
		if !p.OK {
			return false
		}
	}
	return true
}

// Diagnostics runs read-only probes that explain transport failures.
// Probes never gate submission.
type Diagnostics struct {
	client      *transport.Client
	healthPaths []string
	origin      string
	logger      *slog.Logger
}

// DiagnosticsOption configures Diagnostics.
type DiagnosticsOption func(*Diagnostics)

// WithHealthPaths replaces DefaultHealthPaths.
func WithHealthPaths(paths ...string) DiagnosticsOption {
	return func(d *Diagnostics) {
		if len(paths) > 0 {
			d.healthPaths = paths
		}
	}
}

// WithProbeOrigin sets the Origin sent by the cross-origin probes.
func WithProbeOrigin(origin string) DiagnosticsOption {
	return func(d *Diagnostics) {
		if origin != "" {
			d.origin = strings.TrimRight(origin, "/")
		}
	}
}

// WithDiagnosticsLogger sets the logger.
func WithDiagnosticsLogger(l *slog.Logger) DiagnosticsOption {
	return func(d *Diagnostics) {
		d.logger = l
	}
}

// NewDiagnostics creates probes against the client's base URL.
func NewDiagnostics(client *transport.Client, opts ...DiagnosticsOption) *Diagnostics {
	d := &Diagnostics{
		client:      client,
		healthPaths: DefaultHealthPaths,
		origin:      client.Origin(),
	}
	if d.origin == "" {
		d.origin = DefaultProbeOrigin
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connectivity checks that a health path answers 2xx. No Origin is sent.
func (d *Diagnostics) Connectivity(ctx context.Context) ProbeResult {
	start := time.Now()
	path, resp, err := d.get(ctx, transport.Request{SameOrigin: true})
	res := ProbeResult{Name: ProbeConnectivity, Path: path}

	var te *transport.Error
	switch {
	case err == nil:
		res.OK = true
		res.StatusCode = resp.StatusCode
		res.Message = fmt.Sprintf("Endpoint is reachable (GET %s returned HTTP %d)", path, resp.StatusCode)
	case errors.As(err, &te) && te.Kind == transport.KindHTTPStatus:
		res.StatusCode = te.StatusCode
		if missingPath(te) {
			res.Message = "Endpoint is reachable but has no health path (tried " + strings.Join(d.healthPaths, ", ") + ")"
		} else {
			res.Message = fmt.Sprintf("Endpoint is reachable but unhealthy (HTTP %d)", te.StatusCode)
		}
		res.Detail = te.Body
	default:
		res.Message = unreachableMessage(err)
		res.Detail = errorDetail(err)
	}
	return d.finish(ctx, res, start)
}

// CrossOrigin checks that the endpoint allows the probe origin.
func (d *Diagnostics) CrossOrigin(ctx context.Context) ProbeResult {
	return d.corsProbe(ctx, ProbeCrossOrigin, false)
}

// Credentialed checks that the endpoint allows credentialed requests from
// the probe origin: an exact Access-Control-Allow-Origin and
// Access-Control-Allow-Credentials: true.
func (d *Diagnostics) Credentialed(ctx context.Context) ProbeResult {
	return d.corsProbe(ctx, ProbeCredentialed, true)
}

func (d *Diagnostics) corsProbe(ctx context.Context, name string, credentials bool) ProbeResult {
	start := time.Now()
	path, resp, err := d.get(ctx, transport.Request{Origin: d.origin, Credentials: credentials})
	res := ProbeResult{Name: name, Path: path}

	what := "cross-origin"
	if credentials {
		what = "credentialed cross-origin"
	}

	var te *transport.Error
	switch {
	case err == nil:
		res.OK = true
		res.StatusCode = resp.StatusCode
		res.Message = fmt.Sprintf("Endpoint allows %s requests from %s", what, d.origin)
	case errors.As(err, &te) && te.Kind == transport.KindCors:
		res.StatusCode = te.StatusCode
		res.Message = fmt.Sprintf("Endpoint is reachable but rejects %s requests from %s", what, d.origin)
		res.Detail = te.Message
	case errors.As(err, &te) && te.Kind == transport.KindHTTPStatus && te.CORSReason != "":
		res.StatusCode = te.StatusCode
		res.Message = fmt.Sprintf("Endpoint answered HTTP %d and rejects %s requests from %s", te.StatusCode, what, d.origin)
		res.Detail = te.CORSReason
	case errors.As(err, &te) && te.Kind == transport.KindHTTPStatus:
		res.OK = true
		res.StatusCode = te.StatusCode
		res.Message = fmt.Sprintf("Endpoint allows %s requests from %s (it answered HTTP %d)", what, d.origin, te.StatusCode)
	default:
		res.Message = unreachableMessage(err) + "; the cross-origin policy could not be checked"
		res.Detail = errorDetail(err)
	}
	return d.finish(ctx, res, start)
}

// Probe runs a single probe by name.
func (d *Diagnostics) Probe(ctx context.Context, name string) (ProbeResult, error) {
	switch name {
	case ProbeConnectivity:
		return d.Connectivity(ctx), nil
	case ProbeCrossOrigin:
		return d.CrossOrigin(ctx), nil
	case ProbeCredentialed:
		return d.Credentialed(ctx), nil
	default:
		return ProbeResult{}, fmt.Errorf("%w %q", ErrUnknownProbe, name)
	}
}

// RunAll runs every probe concurrently. It never fails.
func (d *Diagnostics) RunAll(ctx context.Context) Report {
	results := make([]ProbeResult, len(ProbeNames))

	var g errgroup.Group
	for i, name := range ProbeNames {
		g.Go(func() error {
			results[i], _ = d.Probe(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	return Report{BaseURL: d.client.BaseURL(), Origin: d.origin, Probes: results}
}

// get tries each health path once, moving on when the path is missing.
func (d *Diagnostics) get(ctx context.Context, req transport.Request) (string, *transport.Response, error) {
	req.Method = http.MethodGet
	req.MaxAttempts = 1

	var (
		path string
		resp *transport.Response
		err  error
	)
	for _, p := range d.healthPaths {
		path = p
		req.Path = p
		resp, err = d.client.Do(ctx, req)

		var te *transport.Error
		if !errors.As(err, &te) || !missingPath(te) {
			break
		}
	}
	return path, resp, err
}

func missingPath(te *transport.Error) bool {
	return te.Kind == transport.KindHTTPStatus &&
		(te.StatusCode == http.StatusNotFound || te.StatusCode == http.StatusMethodNotAllowed)
}

func unreachableMessage(err error) string {
	if transport.KindOf(err) == transport.KindTimeout {
		return "Endpoint did not answer before the timeout"
	}
	return "Endpoint is unreachable"
}

func errorDetail(err error) string {
	var te *transport.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

func (d *Diagnostics) finish(ctx context.Context, res ProbeResult, start time.Time) ProbeResult {
	res.Duration = time.Since(start)

	log := d.logger
	if log == nil {
		log = logging.FromContext(ctx)
	}
	level := slog.LevelInfo
	if !res.OK {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "diagnostic probe finished",
		"probe", res.Name,
		"ok", res.OK,
		"path", res.Path,
		"status", res.StatusCode,
		"duration", res.Duration,
	)
	return res
}
