package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/market"
)

// TokenEnv names the environment variable read for the bridge bearer token
// when none is configured.
const TokenEnv = "FXASSIST_BRIDGE_TOKEN"

// Client talks to a terminal bridge sidecar over HTTP/JSON. It satisfies
// broker.Gateway.
type Client struct {
	BaseURL string // e.g. http://127.0.0.1:8001
	Token   string
	HTTP    *http.Client
}

var _ broker.Gateway = (*Client)(nil)

func New(baseURL, token string, timeout time.Duration) *Client {
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx reply from the bridge.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge http %d: %s", e.Code, e.Body)
}

type symbolDTO struct {
	Name         string  `json:"name"`
	Digits       int     `json:"digits"`
	Point        float64 `json:"point"`
	ContractSize float64 `json:"trade_contract_size"`
	Base         string  `json:"currency_base"`
	Profit       string  `json:"currency_profit"`
}

func (s symbolDTO) symbol() market.Symbol {
	pt := s.Point
	if pt == 0 {
		pt = market.PointFor(s.Digits)
	}
	return market.Symbol{
		Name:         s.Name,
		Base:         s.Base,
		Quote:        s.Profit,
		Digits:       s.Digits,
		Point:        pt,
		ContractSize: s.ContractSize,
	}
}

type tickDTO struct {
	Time int64   `json:"time"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
}

type rateDTO struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

// Position and order types as the terminal numbers them.
const (
	typeBuy  = 0
	typeSell = 1
)

func sideType(s market.Side) int {
	if s == market.Sell {
		return typeSell
	}
	return typeBuy
}

type positionDTO struct {
	Ticket    uint64  `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"`
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	Time      int64   `json:"time"`
}

type orderDTO struct {
	ClientOrderID string  `json:"client_order_id"`
	Action        string  `json:"action"`
	Symbol        string  `json:"symbol"`
	Volume        float64 `json:"volume"`
	Type          int     `json:"type"`
	Price         float64 `json:"price"`
	SL            float64 `json:"sl"`
	TP            float64 `json:"tp"`
	Position      uint64  `json:"position,omitempty"`
	Deviation     int     `json:"deviation"`
	Magic         int     `json:"magic"`
	Comment       string  `json:"comment,omitempty"`
}

type modifyDTO struct {
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Position uint64  `json:"position"`
	SL       float64 `json:"sl"`
	TP       float64 `json:"tp"`
}

type resultDTO struct {
	Retcode int     `json:"retcode"`
	Order   uint64  `json:"order"`
	Price   float64 `json:"price"`
	Comment string  `json:"comment"`
}

func (r resultDTO) result() broker.OrderResult {
	return broker.OrderResult{Retcode: r.Retcode, Ticket: r.Order, Price: r.Price, Message: r.Comment}
}

type accountDTO struct {
	Login    int64   `json:"login"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Profit   float64 `json:"profit"`
}

func (c *Client) ResolveSymbol(ctx context.Context, instrument string) (market.Symbol, error) {
	var all []symbolDTO
	if err := c.do(ctx, http.MethodGet, "/symbols", nil, nil, &all); err != nil {
		return market.Symbol{}, err
	}
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	name, ok := broker.MatchSymbol(names, instrument)
	if !ok {
		return market.Symbol{}, fmt.Errorf("%w: %q", broker.ErrSymbolNotFound, instrument)
	}

	var s symbolDTO
	if err := c.do(ctx, http.MethodGet, path.Join("/symbols", name), nil, nil, &s); err != nil {
		return market.Symbol{}, err
	}
	return s.symbol(), nil
}

func (c *Client) LatestTick(ctx context.Context, symbol string) (market.Tick, error) {
	var t tickDTO
	err := c.do(ctx, http.MethodGet, path.Join("/ticks", symbol), nil, nil, &t)
	if isNotFound(err) {
		return market.Tick{}, fmt.Errorf("tick %s: %w", symbol, market.ErrNoTick)
	}
	if err != nil {
		return market.Tick{}, err
	}
	return market.Tick{Symbol: symbol, Time: time.Unix(t.Time, 0).UTC(), Bid: t.Bid, Ask: t.Ask}, nil
}

func (c *Client) RecentBars(ctx context.Context, symbol string, count int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("timeframe", market.BarTimeframe)
	q.Set("count", strconv.Itoa(count))

	var rates []rateDTO
	if err := c.do(ctx, http.MethodGet, path.Join("/rates", symbol), q, nil, &rates); err != nil {
		return nil, err
	}
	out := make([]market.Candle, len(rates))
	for i, r := range rates {
		out[i] = market.Candle{
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.TickVolume,
			Time:   time.Unix(r.Time, 0).UTC(),
		}
	}
	return out, nil
}

func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	var ps []positionDTO
	if err := c.do(ctx, http.MethodGet, "/positions", q, nil, &ps); err != nil {
		return nil, err
	}
	out := make([]broker.Position, len(ps))
	for i, p := range ps {
		side := market.Buy
		if p.Type == typeSell {
			side = market.Sell
		}
		out[i] = broker.Position{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Side:       side,
			Volume:     p.Volume,
			OpenPrice:  p.PriceOpen,
			StopLoss:   p.SL,
			TakeProfit: p.TP,
			Profit:     p.Profit,
			OpenTime:   time.Unix(p.Time, 0).UTC(),
		}
	}
	return out, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	body := orderDTO{
		ClientOrderID: uuid.NewString(),
		Action:        "deal",
		Symbol:        req.Symbol,
		Volume:        req.Volume,
		Type:          sideType(req.Side),
		Price:         req.Price,
		SL:            req.StopLoss,
		TP:            req.TakeProfit,
		Position:      req.Position,
		Deviation:     req.Deviation,
		Magic:         req.Magic,
		Comment:       req.Comment,
	}
	var res resultDTO
	if err := c.do(ctx, http.MethodPost, "/orders", nil, body, &res); err != nil {
		return broker.OrderResult{}, err
	}
	return res.result(), nil
}

func (c *Client) ModifyPosition(ctx context.Context, req broker.ModifyRequest) (broker.OrderResult, error) {
	body := modifyDTO{
		Action:   "sltp",
		Symbol:   req.Symbol,
		Position: req.Position,
		SL:       req.StopLoss,
		TP:       req.TakeProfit,
	}
	var res resultDTO
	if err := c.do(ctx, http.MethodPost, "/positions/modify", nil, body, &res); err != nil {
		return broker.OrderResult{}, err
	}
	return res.result(), nil
}

func (c *Client) Account(ctx context.Context) (broker.Account, error) {
	var a accountDTO
	if err := c.do(ctx, http.MethodGet, "/account", nil, nil, &a); err != nil {
		return broker.Account{}, err
	}
	return broker.Account{
		Login:    strconv.FormatInt(a.Login, 10),
		Currency: a.Currency,
		Balance:  a.Balance,
		Equity:   a.Equity,
		Profit:   a.Profit,
	}, nil
}

func (c *Client) SelectSymbol(ctx context.Context, symbol string, enable bool) error {
	body := map[string]bool{"enable": enable}
	err := c.do(ctx, http.MethodPost, path.Join("/symbols", symbol, "select"), nil, body, nil)
	if isNotFound(err) {
		return fmt.Errorf("%w: %q", broker.ErrSymbolNotFound, symbol)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, in, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	u.Path = strings.TrimRight(u.Path, "/") + p
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, p, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
