package harness

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/assemble"
	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/steps"
)

// Options configures the browser pool behind a Harness.
type Options struct {
	// ChromePath overrides the browser binary; empty means autodetect.
	ChromePath string
	// Headless is the default; set Headful to watch tests run.
	Headful       bool
	Width, Height int
	// SettleDelay is how long a freshly loaded document gets to run its own
	// initialization before the first step executes.
	SettleDelay time.Duration
	// RestrictNetwork fails every request that does not target the harness
	// origin. The bridge stays reachable because it lives on that origin.
	RestrictNetwork bool
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 800
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 300 * time.Millisecond
	}
	return o
}

// Harness owns one browser process and one loopback document server, and
// hands out disposable execution contexts. One context should be live at a
// time; the orchestrator runs tests strictly sequentially.
type Harness struct {
	opts     Options
	srv      *docServer
	allocCtx context.Context
	cleanup  []func()
	once     sync.Once
}

// New starts the document server and the browser allocator. The browser
// process itself launches lazily with the first context.
func New(ctx context.Context, exec backend.Executor, opts Options) (*Harness, error) {
	opts = opts.withDefaults()

	srv, err := newDocServer(exec)
	if err != nil {
		return nil, fmt.Errorf("starting document server: %w", err)
	}

	eopts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.ChromePath != "" {
		eopts = append(eopts, chromedp.ExecPath(opts.ChromePath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, eopts...)

	h := &Harness{
		opts:     opts,
		srv:      srv,
		allocCtx: allocCtx,
	}
	h.cleanup = append(h.cleanup, func() { srv.Close() })
	h.cleanup = append(h.cleanup, cancelAlloc)
	return h, nil
}

// Port returns the loopback port the document server listens on. Assembled
// documents reach their bridge through this port.
func (h *Harness) Port() int { return h.srv.port }

// Close tears down the browser and the document server.
func (h *Harness) Close() {
	h.once.Do(func() {
		for i := len(h.cleanup) - 1; i >= 0; i-- {
			h.cleanup[i]()
		}
	})
}

func (h *Harness) allowURL(raw string) bool {
	if !h.opts.RestrictNetwork {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == h.srv.addr
}

// Context is one disposable execution context holding one assembled
// document. Destroy is safe to call more than once and must always be
// called, whatever the test outcome.
type Context struct {
	h      *Harness
	ctx    context.Context
	token  string
	offset int

	mu       sync.Mutex
	events   []diagnostics.Event
	saveSeen bool

	destroy []func()
	once    sync.Once
}

// NewContext opens a fresh browser target, loads the assembled document into
// it, and waits for the page to be ready plus the settle delay.
func (h *Harness) NewContext(ctx context.Context, doc *assemble.Document) (*Context, error) {
	token := h.srv.register(doc.HTML)

	tctx, cancelTarget := chromedp.NewContext(h.allocCtx)
	c := &Context{
		h:      h,
		ctx:    tctx,
		token:  token,
		offset: doc.UserScriptStartLine,
	}
	c.destroy = append(c.destroy, func() { h.srv.unregister(token) })
	c.destroy = append(c.destroy, cancelTarget)
	c.destroy = append(c.destroy, func() {
		if err := chromedp.Cancel(tctx); err != nil {
			log.WithError(err).Debug("browser target cancel")
		}
	})

	// Reports and paused requests arrive as CDP events; the listener must
	// never block, so request decisions run on their own goroutines.
	chromedp.ListenTarget(tctx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name == diagnostics.BindingName {
				c.handleReport([]byte(e.Payload))
			}
		case *fetch.EventRequestPaused:
			go c.resolveRequest(tctx, e)
		}
	})

	docURL := fmt.Sprintf("http://%s/run/%s/doc", h.srv.addr, token)
	err := chromedp.Run(tctx,
		runtime.AddBinding(diagnostics.BindingName),
		fetch.Enable(),
		chromedp.Navigate(docURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(h.opts.SettleDelay),
	)
	if err != nil {
		c.Destroy()
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return c, nil
}

func (c *Context) handleReport(payload []byte) {
	r, err := diagnostics.DecodeReport(payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed context report")
		return
	}
	if r.Type == diagnostics.ReportSaveShortcut {
		c.mu.Lock()
		c.saveSeen = true
		c.mu.Unlock()
		return
	}
	ev := diagnostics.Normalize(r, c.offset)
	if ev == nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, *ev)
	c.mu.Unlock()
}

func (c *Context) resolveRequest(ctx context.Context, e *fetch.EventRequestPaused) {
	cc := chromedp.FromContext(ctx)
	ectx := cdp.WithExecutor(ctx, cc.Target)
	if c.h.allowURL(e.Request.URL) {
		if err := fetch.ContinueRequest(e.RequestID).Do(ectx); err != nil {
			log.WithError(err).Debug("continuing request")
		}
		return
	}
	log.WithField("url", e.Request.URL).Debug("blocking outbound request")
	if err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ectx); err != nil {
		log.WithError(err).Debug("failing request")
	}
}

// WithTimeout derives a deadline context for driving this target.
func (c *Context) WithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, d)
}

// Driver returns the step-interpreter surface for this context.
func (c *Context) Driver() steps.Driver { return &Driver{} }

// TakeEvents drains the diagnostics captured since the last call.
func (c *Context) TakeEvents() []diagnostics.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

// SaveRequested reports whether the page saw a save shortcut.
func (c *Context) SaveRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveSeen
}

// Screenshot captures the viewport as a PNG data URL.
func (c *Context) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf), nil
}

// Destroy unregisters the document and closes the browser target. Idempotent.
func (c *Context) Destroy() {
	c.once.Do(func() {
		for i := len(c.destroy) - 1; i >= 0; i-- {
			c.destroy[i]()
		}
	})
}
