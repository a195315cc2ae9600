// FILE: exchange_upbit.go
// Package main – Upbit REST execution backend.
//
// Auth: Upbit signs requests with a JWT (HS256) carrying the access key, a
// uuid nonce, and, when parameters are present, a SHA512 hash of the query
// string. authToken builds the token directly from crypto/hmac.
//
// Endpoints used:
//   GET  /v1/ticker        – last traded price
//   GET  /v1/candles/days  – daily OHLCV, newest first (reversed here)
//   POST /v1/orders        – market orders (price = quote spend for buys)
//   GET  /v1/order         – order status + trades
//   GET  /v1/accounts      – balances
//
// Non-2xx responses surface as *apiError so the retry wrapper can classify
// them (429/5xx retryable, 4xx permanent).

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const upbitBaseURL = "https://api.upbit.com"

// UpbitExchange talks to one Upbit account.
type UpbitExchange struct {
	base      string
	accessKey string
	secretKey string
	hc        *http.Client
}

func NewUpbitExchange(accessKey, secretKey string, timeout time.Duration) *UpbitExchange {
	return &UpbitExchange{
		base:      upbitBaseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		hc:        &http.Client{Timeout: timeout},
	}
}

func (u *UpbitExchange) Name() string { return "upbit" }

// market maps a bare symbol ("BTC") to Upbit's market code ("KRW-BTC").
func market(symbol string) string { return "KRW-" + strings.ToUpper(symbol) }

// --- Auth ---

// authToken builds the signed JWT for query (already URL-encoded, may be "").
func (u *UpbitExchange) authToken(query string) string {
	claims := map[string]string{
		"access_key": u.accessKey,
		"nonce":      uuid.New().String(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(claims)
	body := header + "." + enc.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(u.secretKey))
	mac.Write([]byte(body))
	return "Bearer " + body + "." + enc.EncodeToString(mac.Sum(nil))
}

// encodeQuery renders values in sorted key order; Upbit hashes the exact
// string it receives, so the request URL must reuse this encoding verbatim.
func encodeQuery(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, val := range v[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

func (u *UpbitExchange) do(ctx context.Context, method, path string, params url.Values, auth bool, out any) error {
	query := ""
	if params != nil {
		query = encodeQuery(params)
	}
	endpoint := u.base + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(query)
	} else if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth {
		req.Header.Set("Authorization", u.authToken(query))
	}
	resp, err := u.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		xb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(xb))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Quotation ---

func (u *UpbitExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"markets": {market(symbol)}}
	var payload []struct {
		TradePrice float64 `json:"trade_price"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/ticker", params, false, &payload); err != nil {
		return 0, err
	}
	if len(payload) == 0 || payload[0].TradePrice <= 0 {
		return 0, fmt.Errorf("ticker %s: %w", symbol, errDataUnavailable)
	}
	return payload[0].TradePrice, nil
}

func (u *UpbitExchange) GetDailyCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	if count <= 0 {
		count = 30
	}
	params := url.Values{
		"market": {market(symbol)},
		"count":  {strconv.Itoa(count)},
	}
	var payload []struct {
		CandleDateTimeKST string  `json:"candle_date_time_kst"`
		Open              float64 `json:"opening_price"`
		High              float64 `json:"high_price"`
		Low               float64 `json:"low_price"`
		Close             float64 `json:"trade_price"`
		Volume            float64 `json:"candle_acc_trade_volume"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/candles/days", params, false, &payload); err != nil {
		return nil, err
	}
	// Upbit returns newest first; the signal math wants oldest first.
	out := make([]Candle, 0, len(payload))
	for i := len(payload) - 1; i >= 0; i-- {
		p := payload[i]
		ts, _ := time.Parse("2006-01-02T15:04:05", p.CandleDateTimeKST)
		out = append(out, Candle{Time: ts, Open: p.Open, High: p.High, Low: p.Low, Close: p.Close, Volume: p.Volume})
	}
	return out, nil
}

// --- Orders ---

func (u *UpbitExchange) PlaceMarketBuy(ctx context.Context, symbol string, amount float64) (string, error) {
	params := url.Values{
		"market":   {market(symbol)},
		"side":     {"bid"},
		"ord_type": {"price"}, // market buy by quote spend
		"price":    {strconv.FormatFloat(amount, 'f', -1, 64)},
	}
	return u.placeOrder(ctx, params)
}

func (u *UpbitExchange) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (string, error) {
	params := url.Values{
		"market":   {market(symbol)},
		"side":     {"ask"},
		"ord_type": {"market"},
		"volume":   {strconv.FormatFloat(qty, 'f', 8, 64)},
	}
	return u.placeOrder(ctx, params)
}

func (u *UpbitExchange) placeOrder(ctx context.Context, params url.Values) (string, error) {
	var payload struct {
		UUID string `json:"uuid"`
	}
	if err := u.do(ctx, http.MethodPost, "/v1/orders", params, true, &payload); err != nil {
		return "", err
	}
	if payload.UUID == "" {
		return "", fmt.Errorf("order accepted without uuid")
	}
	return payload.UUID, nil
}

func (u *UpbitExchange) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	params := url.Values{"uuid": {orderID}}
	var payload struct {
		UUID           string `json:"uuid"`
		Market         string `json:"market"`
		Side           string `json:"side"`
		State          string `json:"state"`
		ExecutedVolume string `json:"executed_volume"`
		Trades         []struct {
			Funds  string `json:"funds"`
			Volume string `json:"volume"`
		} `json:"trades"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/order", params, true, &payload); err != nil {
		return nil, err
	}
	st := &OrderStatus{
		ID:     payload.UUID,
		Symbol: strings.TrimPrefix(payload.Market, "KRW-"),
		State:  payload.State,
	}
	if payload.Side == "bid" {
		st.Side = SideBuy
	} else {
		st.Side = SideSell
	}
	var funds, qty float64
	for _, t := range payload.Trades {
		f, _ := strconv.ParseFloat(t.Funds, 64)
		v, _ := strconv.ParseFloat(t.Volume, 64)
		funds += f
		qty += v
	}
	if qty <= 0 {
		qty, _ = strconv.ParseFloat(payload.ExecutedVolume, 64)
	}
	st.FilledQty = qty
	if qty > 0 && funds > 0 {
		st.AvgPrice = funds / qty
	}
	return st, nil
}

// --- Balances ---

func (u *UpbitExchange) GetBalance(ctx context.Context, currency string) (float64, error) {
	var payload []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/accounts", nil, true, &payload); err != nil {
		return 0, err
	}
	currency = strings.ToUpper(currency)
	for _, a := range payload {
		if strings.ToUpper(a.Currency) == currency {
			v, _ := strconv.ParseFloat(a.Balance, 64)
			return v, nil
		}
	}
	return 0, nil
}
