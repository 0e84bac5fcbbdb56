// Package hac drives a remote browserless Chrome endpoint to scrape a
// Home Access Center gradebook portal. The portal renders via client
// side script, so every page is obtained by POSTing a browser script
// to the automation endpoint rather than by direct HTTP.
package hac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"gradewatch-backend/lib/backoff"
	"gradewatch-backend/lib/grades"
	"gradewatch-backend/lib/restyutil"
	"gradewatch-backend/lib/telemetry"
	"gradewatch-backend/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/hac")

// one browser script run covers login plus several navigations, so the
// session budget is much longer than any single in-script navigation.
const sessionTimeout = time.Second * 90
const probeTimeout = time.Second * 5

type ClientOptions struct {
	SchoolUrl      string
	Username       string
	Password       string
	StudentId      string
	BrowserlessUrl string

	// when set, full request/response exchanges are dumped here
	DebugDumpDir string

	// test hooks, zero values mean the production ladder
	RetrySchedule []time.Duration
	MaxAttempts   int
}

type Client struct {
	schoolUrl      string
	username       string
	password       string
	studentId      string
	browserlessUrl string

	http          *resty.Client
	retrySchedule []time.Duration
	maxAttempts   int
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.StudentId == "" {
		return nil, fmt.Errorf("student id is required")
	}
	if _, err := url.Parse(opts.BrowserlessUrl); err != nil {
		return nil, fmt.Errorf("invalid automation endpoint url: %w", err)
	}

	client := resty.New()
	client.SetTimeout(sessionTimeout)
	telemetry.InstrumentResty(client, "scrapers/hac/http")
	if opts.DebugDumpDir != "" {
		restyutil.InstrumentDump(client, restyutil.NewFilesystemOutput(opts.DebugDumpDir))
	}

	return &Client{
		schoolUrl:      strings.TrimRight(opts.SchoolUrl, "/"),
		username:       opts.Username,
		password:       opts.Password,
		studentId:      opts.StudentId,
		browserlessUrl: opts.BrowserlessUrl,
		http:           client,
		retrySchedule:  opts.RetrySchedule,
		maxAttempts:    opts.MaxAttempts,
	}, nil
}

// Session is the result of one successful login. It lives for one
// polling cycle at most; the default-rendered quarter's page is kept
// as an opportunistic cache so that quarter costs no extra navigation.
type Session struct {
	// student id the portal itself rendered, "" if the banner was
	// missing (the id is then validated from the page html instead)
	DetectedStudentId string
	// which quarter the login page rendered by default
	DefaultQuarter grades.Quarter

	defaultHTML string
}

func (c *Client) newLadder() *backoff.Ladder {
	if len(c.retrySchedule) > 0 {
		return backoff.NewLadderWith(c.retrySchedule, c.maxAttempts)
	}
	return backoff.NewLadder()
}

// Probe issues a cheap liveness check against the automation endpoint.
// A failed probe is much cheaper than a login attempt timing out, so
// the connect loop probes before every login try.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "client:Probe")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	healthUrl := strings.TrimSuffix(c.browserlessUrl, "/function")

	res, err := c.http.R().
		SetContext(ctx).
		Get(healthUrl)
	if err != nil {
		span.SetStatus(codes.Error, "endpoint not ready")
		return false
	}
	// 404 on the root still means the server is up
	return res.StatusCode() == 200 || res.StatusCode() == 404
}

type browserCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type functionResult struct {
	Url               string          `json:"url"`
	Cookies           []browserCookie `json:"cookies"`
	Html              string          `json:"html"`
	SelectedStudentId string          `json:"selectedStudentId"`
	Error             string          `json:"error"`
}

func (c *Client) runFunction(ctx context.Context, script string) (functionResult, error) {
	var result functionResult
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/javascript").
		SetBody(script).
		SetResult(&result).
		Post(c.browserlessUrl)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return functionResult{}, &ExtractionError{Kind: ExtractionTimeout, Err: err}
		}
		// transport-level failure, the endpoint is unreachable
		return functionResult{}, err
	}
	if res.StatusCode() != 200 {
		return functionResult{}, &ExtractionError{
			Kind: ExtractionAutomation,
			Err:  fmt.Errorf("automation endpoint returned status %d", res.StatusCode()),
		}
	}
	if result.Error != "" {
		kind := ExtractionAutomation
		if strings.Contains(strings.ToLower(result.Error), "timeout") {
			kind = ExtractionTimeout
		}
		return functionResult{}, &ExtractionError{
			Kind: kind,
			Err:  fmt.Errorf("browser script: %s", result.Error),
		}
	}
	return result, nil
}

func isConnectivity(err error) bool {
	var extraction *ExtractionError
	if errors.As(err, &extraction) {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	return !errors.Is(err, ErrBadCredentials) && err != nil
}

// Connect logs in through the automation endpoint, retrying on the
// bounded backoff ladder while the endpoint is unreachable. The
// endpoint commonly restarts alongside the host platform and may need
// minutes to become ready; failing fast here would force manual
// intervention on every reboot. Credential and validation failures are
// returned immediately, retrying those wastes the ladder on a
// condition that will not self-resolve.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	ctx, span := tracer.Start(ctx, "client:Connect")
	defer span.End()

	ladder := c.newLadder()
	var lastErr error

	for {
		if ladder.Attempt() > 0 && !c.Probe(ctx) {
			delay, ok := ladder.Next()
			if !ok {
				break
			}
			slog.InfoContext(ctx, "automation endpoint not ready, waiting",
				"attempt", ladder.Attempt(),
				"delay", delay,
			)
			if err := backoff.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		sess, err := c.login(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", ladder.Attempt()+1))
			return sess, nil
		}
		if !isConnectivity(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
			return nil, err
		}

		lastErr = err
		delay, ok := ladder.Next()
		if !ok {
			break
		}
		slog.WarnContext(ctx, "cannot reach automation endpoint, retrying",
			"attempt", ladder.Attempt(),
			"delay", delay,
			"err", err,
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("liveness probe never succeeded")
	}
	connErr := &ConnectivityError{Attempts: ladder.Attempt(), Err: lastErr}
	span.RecordError(connErr)
	span.SetStatus(codes.Error, "retry ladder exhausted")
	return nil, connErr
}

func (c *Client) login(ctx context.Context) (*Session, error) {
	ctx, span := tracer.Start(ctx, "client:login")
	defer span.End()

	result, err := c.runFunction(ctx, loginScript(c.schoolUrl, c.username, c.password, c.studentId))
	if err != nil {
		return nil, err
	}

	if strings.Contains(result.Url, "/LogOn") {
		span.SetStatus(codes.Error, "still on login page")
		return nil, ErrBadCredentials
	}
	if strings.Contains(result.Url, "/Error") {
		return nil, &ExtractionError{
			Kind: ExtractionAutomation,
			Err:  fmt.Errorf("login redirected to error page: %s", result.Url),
		}
	}

	sess := &Session{
		DetectedStudentId: result.SelectedStudentId,
		defaultHTML:       result.Html,
	}
	if quarter, ok := detectQuarter(result.Html); ok {
		sess.DefaultQuarter = quarter
	}
	slog.InfoContext(ctx, "logged in to portal",
		"requested_student", c.studentId,
		"selected_student", result.SelectedStudentId,
		"default_quarter", sess.DefaultQuarter,
		"cookies", len(result.Cookies),
	)
	return sess, nil
}

// FetchQuarter retrieves one quarter of grade data within sess. The
// quarter the portal rendered at login is served from the session
// cache; any other quarter costs a fresh scripted navigation that
// switches the marking period dropdown. The snapshot is all-or-nothing
// per quarter: partial data parsed before a failure is discarded.
func (c *Client) FetchQuarter(ctx context.Context, sess *Session, quarter grades.Quarter) (grades.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "client:FetchQuarter")
	defer span.End()
	span.SetAttributes(
		attribute.String("student", c.studentId),
		attribute.String("quarter", string(quarter)),
	)

	if !quarter.Valid() {
		return grades.Snapshot{}, fmt.Errorf("invalid quarter %q", quarter)
	}
	if sess == nil {
		return grades.Snapshot{}, fmt.Errorf("nil session")
	}

	now := timezone.Now()

	var html string
	if quarter == sess.DefaultQuarter && sess.defaultHTML != "" {
		slog.DebugContext(ctx, "serving quarter from login cache", "quarter", quarter)
		html = sess.defaultHTML
	} else {
		result, err := c.runFunction(ctx, quarterScript(
			c.schoolUrl, c.username, c.password, c.studentId, quarter.Number(), now,
		))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "quarter navigation failed")
			return grades.Snapshot{}, err
		}
		html = result.Html
	}

	page, err := parseAssignmentsPage(html, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return grades.Snapshot{}, &ExtractionError{Kind: ExtractionParse, Err: err}
	}

	// identity check: the id embedded in the portal's own output must
	// match the configured tracker verbatim. this guards against a
	// misconfigured id and against a shared login quietly returning a
	// sibling's grades.
	rendered := sess.DetectedStudentId
	if rendered == "" {
		rendered = page.StudentId
	}
	if rendered != "" && rendered != c.studentId {
		err := &ValidationError{Expected: c.studentId, Got: rendered}
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity mismatch")
		return grades.Snapshot{}, err
	}

	snapshot := grades.Snapshot{
		StudentID: c.studentId,
		Quarter:   quarter,
		FetchedAt: now,
		Courses:   page.Courses,
		Summary:   grades.Summarize(page.Courses, now),
	}
	slog.InfoContext(ctx, "fetched quarter",
		"student", c.studentId,
		"quarter", quarter,
		"courses", len(snapshot.Courses),
	)
	return snapshot, nil
}

// Close releases the session's cached page. Browser state lives on the
// automation endpoint per call, so there is nothing remote to tear
// down; sessions are never reused across polling cycles.
func (c *Client) Close(sess *Session) {
	if sess != nil {
		sess.defaultHTML = ""
	}
}
