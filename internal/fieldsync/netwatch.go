package fieldsync

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NetworkObserver tracks connectivity and publishes transitions. The
// sync engine consumes offline→online edges to trigger automatic sync
// passes; everything else reads IsOnline for fast-fail decisions.
type NetworkObserver struct {
	probeURL      string
	probeInterval time.Duration
	stateFile     string
	httpClient    *http.Client
	logger        Logger

	mu     sync.Mutex
	online bool
	subs   []chan bool
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NetworkObserverOptions configures a NetworkObserver. Zero values get
// working defaults; an empty StateFile disables the file watch.
type NetworkObserverOptions struct {
	// ProbeURL is requested periodically; any response, including an
	// HTTP error status, counts as online. Empty disables probing.
	ProbeURL      string
	ProbeInterval time.Duration
	// StateFile is an operator override: a file whose first line is
	// "online" or "offline". Edits apply immediately via fsnotify.
	StateFile  string
	HTTPClient *http.Client
	Logger     Logger
	// InitialOnline seeds the state before the first probe completes.
	InitialOnline bool
}

func NewNetworkObserver(opts NetworkObserverOptions) *NetworkObserver {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 15 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger{}
	}
	return &NetworkObserver{
		probeURL:      strings.TrimSpace(opts.ProbeURL),
		probeInterval: opts.ProbeInterval,
		stateFile:     strings.TrimSpace(opts.StateFile),
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger,
		online:        opts.InitialOnline,
	}
}

func (o *NetworkObserver) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Subscribe returns a channel that receives the new state on every
// transition. The channel is buffered; a slow consumer drops updates
// rather than blocking the observer.
func (o *NetworkObserver) Subscribe() <-chan bool {
	ch := make(chan bool, 4)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, ch)
	return ch
}

// SetOnline forces the state, for tests and for embedders that track
// connectivity themselves instead of running Start.
func (o *NetworkObserver) SetOnline(online bool) {
	o.mu.Lock()
	if o.closed || o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	subs := make([]chan bool, len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Start launches the probe loop and, when a state file is configured,
// the fsnotify watch. It returns immediately; Close stops both.
func (o *NetworkObserver) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})

	var watcher *fsnotify.Watcher
	if o.stateFile != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return err
		}
		// Watch the directory, not the file: editors that replace the
		// file via rename would otherwise silently drop the watch.
		if err := w.Add(filepath.Dir(o.stateFile)); err != nil {
			o.logger.Printf("netwatch: cannot watch %s: %v", o.stateFile, err)
			_ = w.Close()
		} else {
			watcher = w
			o.applyStateFile()
		}
	}

	go o.run(ctx, watcher)
	return nil
}

func (o *NetworkObserver) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(o.done)
	if watcher != nil {
		defer watcher.Close()
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if o.probeURL != "" {
		o.probe(ctx)
		ticker = time.NewTicker(o.probeInterval)
		tick = ticker.C
		defer ticker.Stop()
	}

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			o.probe(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 &&
				filepath.Clean(event.Name) == filepath.Clean(o.stateFile) {
				o.applyStateFile()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			o.logger.Printf("netwatch: watch error: %v", err)
		}
	}
}

func (o *NetworkObserver) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.probeURL, nil)
	if err != nil {
		return
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.SetOnline(false)
		return
	}
	_ = resp.Body.Close()
	o.SetOnline(true)
}

func (o *NetworkObserver) applyStateFile() {
	data, err := os.ReadFile(o.stateFile)
	if err != nil {
		return
	}
	line := data
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		line = data[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(string(line))) {
	case "online":
		o.SetOnline(true)
	case "offline":
		o.SetOnline(false)
	}
}

// Close stops the probe loop and the file watch and closes all
// subscriber channels.
func (o *NetworkObserver) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
	for _, ch := range subs {
		close(ch)
	}
	return nil
}
