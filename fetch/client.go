package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"

	"github.com/sinalbot/signals/shared"
)

const (
	// DefaultWSURL is the provider's websocket endpoint.
	DefaultWSURL = "wss://ws.trade.exnova.com/echo/websocket"
	// DefaultAuthURL is the provider's credential login endpoint.
	DefaultAuthURL = "https://api.trade.exnova.com/v2/login"
	// DefaultRequestTimeout is the maximum wait for a candle reply.
	DefaultRequestTimeout = time.Second * 15
	// handshakeTimeout is the maximum wait for the session to be accepted.
	handshakeTimeout = time.Second * 10
	// candlesVersion is the version of the candles request supported.
	candlesVersion = "2.0"
)

// ClientConfig represents the configuration of the market data client.
type ClientConfig struct {
	// WSURL is the provider websocket url.
	WSURL string
	// AuthURL is the provider login url, used with credentials.
	AuthURL string
	// Email is the provider account email.
	Email string
	// Password is the provider account password.
	Password string
	// SSID is a pre-issued provider session id, used instead of credentials.
	SSID string
	// RequestTimeout is the maximum wait for a candle reply.
	RequestTimeout time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ClientConfig) Validate() error {
	var errs error

	if cfg.WSURL == "" {
		errs = errors.Join(errs, fmt.Errorf("websocket url cannot be an empty string"))
	}

	hasCredentials := cfg.Email != "" || cfg.Password != ""
	switch {
	case hasCredentials && cfg.SSID != "":
		errs = errors.Join(errs, fmt.Errorf("provide either credentials or an ssid, not both"))
	case !hasCredentials && cfg.SSID == "":
		errs = errors.Join(errs, fmt.Errorf("credentials or an ssid must be provided"))
	case hasCredentials:
		if cfg.Email == "" || cfg.Password == "" {
			errs = errors.Join(errs, fmt.Errorf("credentials require both email and password"))
		}
		if cfg.AuthURL == "" {
			errs = errors.Join(errs, fmt.Errorf("auth url cannot be an empty string"))
		}
	}

	if cfg.RequestTimeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("request timeout cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// candlesBody is the body of a candles request.
type candlesBody struct {
	ActiveID int   `json:"active_id"`
	Size     int   `json:"size"`
	To       int64 `json:"to"`
	Count    int   `json:"count"`
}

// candlesMessage is the inner message of a candles request.
type candlesMessage struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Body    candlesBody `json:"body"`
}

// outgoing is the envelope of every message sent to the provider.
type outgoing struct {
	Name      string `json:"name"`
	RequestID string `json:"request_id,omitempty"`
	Msg       any    `json:"msg"`
}

// Client is the provider market data client. It maintains a single
// authenticated websocket session shared by all callers and correlates
// candle replies with their requests.
type Client struct {
	cfg    *ClientConfig
	httpc  http.Client
	dialer websocket.Dialer

	// sessionMtx serializes session establishment.
	sessionMtx sync.Mutex
	ssid       string

	// mtx guards the connection and the pending requests.
	mtx     sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan gjson.Result

	writeMtx   sync.Mutex
	connected  atomic.Bool
	serverTime atomic.Int64
}

// Ensure the client implements the CandleFetcher interface.
var _ shared.CandleFetcher = (*Client)(nil)

// NewClient initializes a new market data client. No connection is made until
// the first fetch.
func NewClient(cfg *ClientConfig) (*Client, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	c := &Client{
		cfg:     cfg,
		httpc:   http.Client{Timeout: handshakeTimeout},
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		ssid:    cfg.SSID,
		pending: make(map[string]chan gjson.Result),
	}

	return c, nil
}

// Connected checks whether the client currently holds an authenticated session.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// ServerTime returns the last provider time received, zero if none was received.
func (c *Client) ServerTime() time.Time {
	ms := c.serverTime.Load()
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}

// current returns the active connection, nil if there is none.
func (c *Client) current() *websocket.Conn {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.conn
}

// write sends the provided message over the connection.
func (c *Client) write(conn *websocket.Conn, msg outgoing) error {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	return conn.WriteJSON(msg)
}

// ensureSession returns the active connection, establishing and authenticating
// a new one if there is none. Concurrent callers wait on a single attempt.
func (c *Client) ensureSession(ctx context.Context) (*websocket.Conn, error) {
	c.sessionMtx.Lock()
	defer c.sessionMtx.Unlock()

	conn := c.current()
	if conn != nil {
		return conn, nil
	}

	if c.ssid == "" {
		ssid, err := c.login(ctx)
		if err != nil {
			return nil, fmt.Errorf("logging in: %w", err)
		}

		c.ssid = ssid
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing provider, status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing provider: %w", err)
	}

	err = c.authenticate(conn)
	if err != nil {
		conn.Close()

		// Credential sessions are renewed by logging in again.
		if errors.Is(err, shared.ErrAuthenticationFailed) && c.cfg.SSID == "" {
			c.ssid = ""
		}

		return nil, err
	}

	c.mtx.Lock()
	c.conn = conn
	c.mtx.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	c.cfg.Logger.Info().Msgf("provider session established")

	return conn, nil
}

// authenticate binds the session id to the connection and waits for the
// provider to accept it.
func (c *Client) authenticate(conn *websocket.Conn) error {
	err := c.write(conn, outgoing{Name: "ssid", Msg: c.ssid})
	if err != nil {
		return fmt.Errorf("sending ssid: %w", err)
	}

	err = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err != nil {
		return fmt.Errorf("setting handshake deadline: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("awaiting session profile: %w", err)
		}

		msg := gjson.ParseBytes(data)
		switch msg.Get("name").String() {
		case "profile":
			return conn.SetReadDeadline(time.Time{})
		case "unauthorized":
			return fmt.Errorf("session rejected: %w", shared.ErrAuthenticationFailed)
		case "timeSync":
			c.serverTime.Store(msg.Get("msg").Int())
		}
	}
}

// readLoop dispatches provider messages until the connection fails.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.invalidate(conn, err)
			return
		}

		c.handleMessage(conn, data)
	}
}

// handleMessage processes a single provider message.
func (c *Client) handleMessage(conn *websocket.Conn, data []byte) {
	msg := gjson.ParseBytes(data)

	switch msg.Get("name").String() {
	case "heartbeat":
		reply := outgoing{
			Name: "heartbeat",
			Msg: map[string]int64{
				"heartbeatTime": msg.Get("msg").Int(),
				"userTime":      time.Now().UnixMilli(),
			},
		}

		err := c.write(conn, reply)
		if err != nil {
			c.cfg.Logger.Error().Msgf("answering heartbeat: %v", err)
		}

	case "timeSync":
		c.serverTime.Store(msg.Get("msg").Int())

	case "candles":
		c.resolve(msg.Get("request_id").String(), msg)

	case "result":
		// Rejected requests are answered with an unsuccessful result.
		if !msg.Get("msg.success").Bool() {
			c.resolve(msg.Get("request_id").String(), msg)
		}
	}
}

// resolve hands the reply to the request awaiting it, if any.
func (c *Client) resolve(requestID string, msg gjson.Result) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	reply, ok := c.pending[requestID]
	if !ok {
		return
	}

	delete(c.pending, requestID)
	reply <- msg
}

// invalidate drops the provided connection, failing every request awaiting a
// reply on it. The next fetch establishes a new session.
func (c *Client) invalidate(conn *websocket.Conn, cause error) {
	conn.Close()

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.conn != conn {
		return
	}

	c.conn = nil
	c.connected.Store(false)
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}

	c.cfg.Logger.Error().Msgf("provider session lost: %v", cause)
}

// track registers a pending request.
func (c *Client) track(requestID string) chan gjson.Result {
	reply := make(chan gjson.Result, 1)

	c.mtx.Lock()
	c.pending[requestID] = reply
	c.mtx.Unlock()

	return reply
}

// untrack removes a pending request.
func (c *Client) untrack(requestID string) {
	c.mtx.Lock()
	delete(c.pending, requestID)
	c.mtx.Unlock()
}

// FetchCandles fetches the most recent count candles for the market and timeframe,
// ordered by ascending date.
func (c *Client) FetchCandles(ctx context.Context, market string, timeframe shared.Timeframe, count int) ([]shared.Candlestick, error) {
	activeID, err := shared.ActiveID(market)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("candle count must be positive, got %d", count)
	}

	conn, err := c.ensureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensuring provider session: %w", err)
	}

	requestID := uuid.New().String()
	reply := c.track(requestID)
	defer c.untrack(requestID)

	req := outgoing{
		Name:      "sendMessage",
		RequestID: requestID,
		Msg: candlesMessage{
			Name:    "get-candles",
			Version: candlesVersion,
			Body: candlesBody{
				ActiveID: activeID,
				Size:     timeframe.Seconds(),
				To:       time.Now().Unix(),
				Count:    count,
			},
		},
	}

	err = c.write(conn, req)
	if err != nil {
		c.invalidate(conn, err)
		return nil, fmt.Errorf("requesting %s %s candles: %w", market, timeframe.String(), err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timer.C:
		return nil, fmt.Errorf("%s %s candles timed out after %s: %w", market,
			timeframe.String(), c.cfg.RequestTimeout, shared.ErrDataUnavailable)

	case msg, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("session lost awaiting %s %s candles: %w", market,
				timeframe.String(), shared.ErrDataUnavailable)
		}

		return c.parseCandles(msg, market, timeframe)
	}
}

// parseCandles parses the candles of a provider reply.
func (c *Client) parseCandles(msg gjson.Result, market string, timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	data := msg.Get("msg.candles").Array()
	if len(data) == 0 {
		c.cfg.Logger.Debug().Msgf("empty %s %s candles reply: %s", market, timeframe.String(), spew.Sdump(msg.Raw))
		return nil, fmt.Errorf("no %s %s candles returned: %w", market, timeframe.String(), shared.ErrDataUnavailable)
	}

	candles := make([]shared.Candlestick, 0, len(data))
	for idx := range data {
		candle := shared.Candlestick{
			Open:      data[idx].Get("open").Float(),
			Low:       data[idx].Get("min").Float(),
			High:      data[idx].Get("max").Float(),
			Close:     data[idx].Get("close").Float(),
			Volume:    data[idx].Get("volume").Float(),
			Date:      time.Unix(data[idx].Get("from").Int(), 0).UTC(),
			Market:    market,
			Timeframe: timeframe,
		}

		err := candle.Validate()
		if err != nil {
			c.cfg.Logger.Debug().Msgf("malformed candle: %s", spew.Sdump(data[idx].Raw))
			return nil, fmt.Errorf("%w: %w", shared.ErrDataUnavailable, err)
		}

		candles = append(candles, candle)
	}

	return shared.SortCandlesticks(candles), nil
}

// Close ends the provider session, if any.
func (c *Client) Close() error {
	c.sessionMtx.Lock()
	defer c.sessionMtx.Unlock()

	conn := c.current()
	if conn == nil {
		return nil
	}

	c.writeMtx.Lock()
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"))
	c.writeMtx.Unlock()

	c.invalidate(conn, errors.New("client closed"))

	return err
}
