package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/run"
)

const maxTitleChars = 80

// Config carries everything a relay run needs beyond the source definition.
type Config struct {
	SourceID string
	Relay    document.RelayConfig
	State    connector.StateStore
	Logger   *zap.Logger

	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

// Connector subscribes to each configured relay in turn and emits one
// document per unseen event. In live mode it keeps the last relay's
// subscription open past EOSE until a stop is requested.
type Connector struct {
	sourceID string
	cfg      document.RelayConfig
	state    connector.StateStore
	logger   *zap.Logger
	dialer   *websocket.Dialer

	pollInterval time.Duration
}

// New validates the relay configuration.
func New(cfg Config) (*Connector, error) {
	if err := cfg.Relay.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	state := cfg.State
	if state == nil {
		state = connector.NewMemoryStateStore()
	}
	return &Connector{
		sourceID:     cfg.SourceID,
		cfg:          cfg.Relay,
		state:        state,
		logger:       logger,
		dialer:       dialer,
		pollInterval: 200 * time.Millisecond,
	}, nil
}

// Type reports the connector variant.
func (c *Connector) Type() document.SourceType { return document.SourceRelay }

// Run pulls from every relay sequentially. A relay that cannot be reached is
// logged and skipped; the run fails only when every relay fails. The since
// bound resumes from the last successful run's watermark when that postdates
// the configured since.
func (c *Connector) Run(ctx context.Context, sup *run.Supervisor) error {
	filter := NewFilter(c.cfg)
	if wm, ok := c.state.Watermark(c.sourceID); ok {
		since := wm.Unix()
		if filter.Since == nil || since > *filter.Since {
			filter.Since = &since
			sup.Logf("resuming from watermark %s", wm.UTC().Format(time.RFC3339))
		}
	}
	seen := make(map[string]struct{})

	var (
		watermark time.Time
		reached   int
		runErr    error
	)
	for i, relayURL := range c.cfg.Relays {
		if sup.StopRequested() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		live := c.cfg.Live && i == len(c.cfg.Relays)-1
		wm, err := c.pullRelay(ctx, sup, relayURL, filter, seen, live)
		if err != nil {
			sup.Logf("relay %s failed: %v", relayURL, err)
			metrics.ObserveSkip(string(document.SourceRelay))
			runErr = err
			continue
		}
		reached++
		if wm.After(watermark) {
			watermark = wm
		}
	}

	ok := reached > 0
	message := fmt.Sprintf("pulled %d events from %d of %d relays", len(seen), reached, len(c.cfg.Relays))
	if !ok && runErr != nil {
		message = runErr.Error()
	}
	c.state.RecordOutcome(c.sourceID, connector.Outcome{
		At:        time.Now(),
		OK:        ok,
		Message:   message,
		Watermark: watermark,
	})
	if !ok && runErr != nil {
		return fmt.Errorf("all %d relays failed: %w", len(c.cfg.Relays), runErr)
	}
	sup.Logf("%s", message)
	return nil
}

// pullRelay drains one relay's subscription and returns the newest event
// timestamp it saw.
func (c *Connector) pullRelay(ctx context.Context, sup *run.Supervisor, relayURL string, filter Filter, seen map[string]struct{}, live bool) (time.Time, error) {
	conn, _, err := c.dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			c.logger.Debug("close relay connection", zap.Error(cerr))
		}
	}()

	subID := uuid.NewString()
	req, err := reqFrame(subID, filter)
	if err != nil {
		return time.Time{}, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return time.Time{}, fmt.Errorf("send REQ: %w", err)
	}
	sup.Logf("subscribed to %s", relayURL)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		for {
			_, raw, rerr := conn.ReadMessage()
			if rerr != nil {
				readErr <- rerr
				return
			}
			select {
			case frames <- raw:
			case <-readDone:
				return
			}
		}
	}()

	var watermark time.Time
	backlogDone := false
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return watermark, ctx.Err()
		case <-ticker.C:
			if sup.StopRequested() {
				c.sendClose(conn, subID)
				return watermark, nil
			}
		case rerr := <-readErr:
			if backlogDone {
				// The relay hung up after serving the backlog.
				return watermark, nil
			}
			return watermark, fmt.Errorf("read: %w", rerr)
		case raw := <-frames:
			label, payload, derr := decodeFrame(raw)
			if derr != nil {
				sup.Logf("relay %s sent a malformed frame: %v", relayURL, derr)
				continue
			}
			switch label {
			case "EVENT":
				if ts, ok := c.handleEvent(sup, relayURL, payload, seen); ok && ts.After(watermark) {
					watermark = ts
				}
			case "EOSE":
				backlogDone = true
				if !live {
					c.sendClose(conn, subID)
					return watermark, nil
				}
				sup.Logf("backlog from %s complete; staying subscribed", relayURL)
			}
		}
	}
}

// handleEvent emits a document for an unseen, non-empty event. Returns the
// event timestamp and whether a document was emitted.
func (c *Connector) handleEvent(sup *run.Supervisor, relayURL string, payload []json.RawMessage, seen map[string]struct{}) (time.Time, bool) {
	if len(payload) < 2 {
		sup.Logf("relay %s sent an EVENT frame without a payload", relayURL)
		return time.Time{}, false
	}
	var ev Event
	if err := json.Unmarshal(payload[1], &ev); err != nil {
		sup.Logf("relay %s sent an undecodable event: %v", relayURL, err)
		metrics.ObserveSkip(string(document.SourceRelay))
		return time.Time{}, false
	}
	if ev.ID == "" {
		sup.Logf("relay %s sent an event without an id; skipping", relayURL)
		metrics.ObserveSkip(string(document.SourceRelay))
		return time.Time{}, false
	}
	if _, dup := seen[ev.ID]; dup {
		return time.Time{}, false
	}
	seen[ev.ID] = struct{}{}
	if strings.TrimSpace(ev.Content) == "" {
		sup.Logf("event %s has no content; skipping", ev.ID)
		metrics.ObserveSkip(string(document.SourceRelay))
		return time.Time{}, false
	}

	createdAt := time.Unix(ev.CreatedAt, 0).UTC()
	sup.Document(&document.Document{
		ExternalID:  ev.ID,
		Title:       eventTitle(ev),
		Content:     ev.Content,
		ContentType: document.ContentEvent,
		Attributes: map[string]string{
			"pubkey": ev.PubKey,
			"kind":   strconv.Itoa(ev.Kind),
			"relay":  relayURL,
		},
		LastModified: &createdAt,
	}, false)
	sup.Progress(len(seen), c.expectedTotal(), ev.ID)
	return createdAt, true
}

// eventTitle prefers an explicit title or subject tag, then falls back to the
// first line of content, bounded.
func eventTitle(ev Event) string {
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		if name := strings.ToLower(tag[0]); name == "title" || name == "subject" {
			if tagged := strings.TrimSpace(tag[1]); tagged != "" {
				if len(tagged) > maxTitleChars {
					tagged = tagged[:maxTitleChars]
				}
				return tagged
			}
		}
	}
	title := ev.Content
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars]
	}
	if title == "" {
		title = "event " + ev.ID
	}
	return title
}

func (c *Connector) expectedTotal() int {
	if c.cfg.Limit > 0 {
		return c.cfg.Limit * len(c.cfg.Relays)
	}
	return 0
}

func (c *Connector) sendClose(conn *websocket.Conn, subID string) {
	frame, err := closeFrame(subID)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Debug("send CLOSE frame", zap.Error(err))
	}
}
