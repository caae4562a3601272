package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/levenlabs/go-lflag"

	"github.com/wattflow/wattflow/pkg/common"
	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/types"
)

const (
	defaultRefreshInterval = time.Minute
	handshakeTimeout       = 10 * time.Second
)

// Client implements Source over the Home Assistant websocket API. It keeps
// a copy of every entity's state up to date from state_changed events so
// lookups never block.
type Client struct {
	url      string
	token    string
	interval time.Duration
	dialer   *websocket.Dialer

	// writeMu serializes writes since a websocket.Conn allows one writer
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	ready   bool
	nextID  int
	pending map[int]chan response
	period  types.Period

	statesMu sync.RWMutex
	states   map[string]types.EntityState
}

// NewClient returns a client for the Home Assistant at baseURL (e.g.
// http://homeassistant.local:8123) authenticating with a long-lived access
// token.
func NewClient(baseURL, token string) (*Client, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := newClient()
	c.url = wsURL
	c.token = token
	return c, nil
}

func newClient() *Client {
	return &Client{
		interval: defaultRefreshInterval,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		states: make(map[string]types.EntityState),
	}
}

// Configured sets up flags for the Home Assistant connection and returns the
// client. The client isn't connected until Run or Connect is called.
func Configured() *Client {
	c := newClient()
	baseURL := lflag.String("hass-url", "http://homeassistant.local:8123", "Base URL of Home Assistant")
	token := lflag.String("hass-token", "", "Home Assistant long-lived access token")
	interval := lflag.Duration("hass-refresh-interval", defaultRefreshInterval, "How often statistics are reloaded")

	lflag.Do(func() {
		wsURL, err := websocketURL(*baseURL)
		if err != nil {
			panic(err)
		}
		if *token == "" {
			panic("hass-token is required")
		}
		c.url = wsURL
		c.token = *token
		if *interval > 0 {
			c.interval = *interval
		}
	})

	return c
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse home assistant url (%s): %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported home assistant url scheme: %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/api/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	}
	return u.String(), nil
}

// SetRefreshInterval changes how often the collection emits a period.
// Non-positive durations are ignored.
func (c *Client) SetRefreshInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

// SetPeriod sets the fixed period emitted by the collection. A zero period
// means today.
func (c *Client) SetPeriod(p types.Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.period = p
}

type message struct {
	ID        int             `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result"`
	Error     *resultError    `json:"error"`
	Event     json.RawMessage `json:"event"`
	Message   string          `json:"message"`
	HAVersion string          `json:"ha_version"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *resultError) Error() string {
	return e.Code + ": " + e.Message
}

type response struct {
	result json.RawMessage
	err    error
}

// Connect dials Home Assistant, authenticates, loads every entity state
// and subscribes to state changes.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, common.Header())
	if err != nil {
		return fmt.Errorf("failed to dial home assistant: %w", err)
	}
	version, err := c.authenticate(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "authenticated with home assistant", slog.String("version", version))

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.ready = false
	c.pending = make(map[int]chan response)
	c.mu.Unlock()

	go c.readLoop(context.WithoutCancel(ctx), conn, done)

	if err := c.loadStates(ctx); err != nil {
		c.Close()
		return err
	}
	if err := c.call(ctx, map[string]any{
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}, nil); err != nil {
		c.Close()
		return fmt.Errorf("failed to subscribe to state changes: %w", err)
	}

	c.mu.Lock()
	c.ready = c.conn == conn
	c.mu.Unlock()
	return nil
}

func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth request: %w", err)
	}
	if msg.Type != "auth_required" {
		return "", fmt.Errorf("unexpected message from home assistant: %s", msg.Type)
	}
	if err := conn.WriteJSON(map[string]string{
		"type":         "auth",
		"access_token": c.token,
	}); err != nil {
		return "", fmt.Errorf("failed to send auth: %w", err)
	}
	msg = message{}
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
		return msg.HAVersion, nil
	case "auth_invalid":
		return "", fmt.Errorf("%w: %s", ErrAuth, msg.Message)
	default:
		return "", fmt.Errorf("unexpected auth response from home assistant: %s", msg.Type)
	}
}

// Close closes the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}

// Done returns a channel that's closed when the current connection is lost.
// It returns nil if there is no connection.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Run keeps the client connected until ctx is cancelled, reconnecting with
// an exponential backoff. It only returns early if the token is rejected.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	for {
		err := backoff.RetryNotify(
			func() error {
				err := c.Connect(ctx)
				if errors.Is(err, ErrAuth) {
					return backoff.Permanent(err)
				}
				return err
			},
			backoff.WithContext(b, ctx),
			func(err error, d time.Duration) {
				log.Ctx(ctx).WarnContext(ctx, "failed to connect to home assistant", slog.Any("error", err), slog.Duration("retryIn", d))
			},
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "connected to home assistant", slog.String("url", c.url))
		b.Reset()

		select {
		case <-ctx.Done():
			return c.Close()
		case <-c.Done():
			log.Ctx(ctx).WarnContext(ctx, "lost connection to home assistant")
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.ready = false
			c.pending = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Ctx(ctx).WarnContext(ctx, "home assistant connection error", slog.Any("error", err))
			}
			return
		}
		switch msg.Type {
		case "result":
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if !ok {
				continue
			}
			if !msg.Success {
				rerr := msg.Error
				if rerr == nil {
					rerr = &resultError{Code: "unknown_error", Message: "request failed"}
				}
				ch <- response{err: fmt.Errorf("home assistant request failed: %w", rerr)}
				continue
			}
			ch <- response{result: msg.Result}
		case "event":
			c.handleEvent(ctx, msg.Event)
		}
	}
}

// call sends req and decodes the result into out.
func (c *Client) call(ctx context.Context, req map[string]any, out any) error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	req["id"] = id
	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %v: %w", req["type"], err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return fmt.Errorf("failed to decode %v result: %w", req["type"], err)
		}
		return nil
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// haTime decodes both the millisecond timestamps and the ISO strings Home
// Assistant uses depending on its version.
type haTime time.Time

func (t *haTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*t = haTime{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var tt time.Time
		if err := json.Unmarshal(b, &tt); err != nil {
			return err
		}
		*t = haTime(tt)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid time: %s", s)
	}
	*t = haTime(time.UnixMilli(int64(ms)))
	return nil
}

type haStatistic struct {
	Start     haTime   `json:"start"`
	State     *float64 `json:"state"`
	Change    *float64 `json:"change"`
	LastReset *haTime  `json:"last_reset"`
}

func (s haStatistic) sample() types.StatisticSample {
	out := types.StatisticSample{
		Start:  time.Time(s.Start),
		Change: s.Change,
	}
	if s.State != nil {
		out.State = *s.State
	}
	if s.LastReset != nil && !time.Time(*s.LastReset).IsZero() {
		lr := time.Time(*s.LastReset)
		out.LastReset = &lr
	}
	return out
}

// FetchStatistics implements StatisticsFetcher.
func (c *Client) FetchStatistics(ctx context.Context, start time.Time, end *time.Time, ids []string, g types.Granularity) (types.Statistics, error) {
	if len(ids) == 0 {
		return types.Statistics{}, nil
	}
	req := map[string]any{
		"type":          "recorder/statistics_during_period",
		"start_time":    start.UTC().Format(time.RFC3339Nano),
		"statistic_ids": ids,
		"period":        string(g),
	}
	if end != nil {
		req["end_time"] = end.UTC().Format(time.RFC3339Nano)
	}

	var raw map[string][]haStatistic
	if err := c.call(ctx, req, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch statistics: %w", err)
	}

	stats := make(types.Statistics, len(raw))
	for id, rows := range raw {
		samples := make([]types.StatisticSample, len(rows))
		for i, r := range rows {
			samples[i] = r.sample()
		}
		stats[id] = samples
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched statistics",
		slog.Time("start", start),
		slog.String("granularity", string(g)),
		slog.Int("entities", len(stats)),
	)
	return stats, nil
}

// FetchCo2 implements Co2Fetcher.
func (c *Client) FetchCo2(ctx context.Context, start time.Time, end *time.Time, gridIDs []string, co2ID string, g types.Granularity) (map[string]float64, error) {
	// end_time is required by this endpoint
	e := time.Now()
	if end != nil {
		e = *end
	}
	req := map[string]any{
		"type":                 "energy/fossil_energy_consumption",
		"start_time":           start.UTC().Format(time.RFC3339Nano),
		"end_time":             e.UTC().Format(time.RFC3339Nano),
		"energy_statistic_ids": gridIDs,
		"co2_statistic_id":     co2ID,
		"period":               string(g),
	}
	var out map[string]float64
	if err := c.call(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch co2 data: %w", err)
	}
	return out, nil
}

type haState struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
	Attributes  struct {
		UnitOfMeasurement string `json:"unit_of_measurement"`
	} `json:"attributes"`
}

func (s haState) entityState() types.EntityState {
	return types.EntityState{
		EntityID:    s.EntityID,
		State:       s.State,
		Unit:        s.Attributes.UnitOfMeasurement,
		LastChanged: s.LastChanged,
	}
}

func (c *Client) loadStates(ctx context.Context) error {
	var states []haState
	if err := c.call(ctx, map[string]any{"type": "get_states"}, &states); err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}
	m := make(map[string]types.EntityState, len(states))
	for _, s := range states {
		m[s.EntityID] = s.entityState()
	}
	c.statesMu.Lock()
	c.states = m
	c.statesMu.Unlock()
	log.Ctx(ctx).DebugContext(ctx, "loaded entity states", slog.Int("count", len(m)))
	return nil
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string   `json:"entity_id"`
		NewState *haState `json:"new_state"`
	} `json:"data"`
}

func (c *Client) handleEvent(ctx context.Context, raw json.RawMessage) {
	var ev stateChangedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode home assistant event", slog.Any("error", err))
		return
	}
	if ev.EventType != "state_changed" || ev.Data.EntityID == "" {
		return
	}
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	if ev.Data.NewState == nil {
		delete(c.states, ev.Data.EntityID)
		return
	}
	c.states[ev.Data.EntityID] = ev.Data.NewState.entityState()
}

// Entity implements EntityRegistry.
func (c *Client) Entity(id string) (types.EntityState, bool) {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()
	s, ok := c.states[id]
	return s, ok
}

// Collection implements CollectionProvider. The client is its own collection
// once it's connected and has loaded the entity states.
func (c *Client) Collection() (Collection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil, false
	}
	return c, true
}

// Subscribe emits the configured period immediately and then every refresh
// interval until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context) (<-chan types.Period, error) {
	c.mu.Lock()
	connected := c.conn != nil
	interval := c.interval
	c.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	ch := make(chan types.Period, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			c.mu.Lock()
			p := c.period
			c.mu.Unlock()
			select {
			case ch <- p:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
