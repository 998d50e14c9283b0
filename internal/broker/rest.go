package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/config"
	"market_maker/internal/core"
)

// RESTBroker is a generic HMAC-signed REST broker, grounded on the
// query-string-signing convention most spot exchanges share (API key
// header, timestamp + secret-signed query string). It implements
// core.Broker directly, without the multi-exchange factory/adapter
// layer a futures/margin connector needs.
type RESTBroker struct {
	cfg        config.BrokerConfig
	httpClient *http.Client
	log        core.ILogger
}

// NewRESTBroker builds a REST broker against cfg.BaseURL, signing
// every private request with cfg.APIKey/cfg.SecretKey.
func NewRESTBroker(cfg config.BrokerConfig, log core.ILogger) *RESTBroker {
	return &RESTBroker{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.WithField("component", "rest_broker"),
	}
}

func (r *RESTBroker) sign(q url.Values) {
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(string(r.cfg.SecretKey)))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
}

func (r *RESTBroker) do(ctx context.Context, method, path string, q url.Values, signed bool) ([]byte, error) {
	if signed {
		r.sign(q)
	}

	reqURL := fmt.Sprintf("%s%s", r.cfg.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, core.NewError(core.KindPermanent, "restbroker.do", err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-API-KEY", string(r.cfg.APIKey))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, core.NewError(core.KindTransient, "restbroker.do", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.KindTransient, "restbroker.do", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewError(core.KindRateLimited, "restbroker.do", core.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewError(core.KindTransient, "restbroker.do", fmt.Errorf("exchange returned %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, core.NewError(core.KindMissingOrder, "restbroker.do", core.ErrOrderNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewError(core.KindPermanent, "restbroker.do", fmt.Errorf("exchange returned %d: %s", resp.StatusCode, body))
	}
	return body, nil
}

func (r *RESTBroker) CurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	q := url.Values{"market": {market}}
	body, err := r.do(ctx, http.MethodGet, "/v1/ticker", q, false)
	if err != nil {
		return decimal.Zero, err
	}

	var raw []struct {
		Market     string `json:"market"`
		TradePrice string `json:"trade_price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, core.NewError(core.KindPermanent, "restbroker.CurrentPrice", err)
	}
	if len(raw) == 0 {
		return decimal.Zero, core.NewError(core.KindPermanent, "restbroker.CurrentPrice", fmt.Errorf("no ticker for %s", market))
	}
	price, err := decimal.NewFromString(raw[0].TradePrice)
	if err != nil {
		return decimal.Zero, core.NewError(core.KindPermanent, "restbroker.CurrentPrice", err)
	}
	return price, nil
}

func (r *RESTBroker) Balances(ctx context.Context) (core.AccountBalances, error) {
	body, err := r.do(ctx, http.MethodGet, "/v1/accounts", url.Values{}, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
		Locked   string `json:"locked"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, core.NewError(core.KindPermanent, "restbroker.Balances", err)
	}

	out := make(core.AccountBalances, len(raw))
	for _, a := range raw {
		free, _ := decimal.NewFromString(a.Balance)
		locked, _ := decimal.NewFromString(a.Locked)
		out[a.Currency] = core.CurrencyBalance{Free: free, Locked: locked}
	}
	return out, nil
}

func (r *RESTBroker) placeOrder(ctx context.Context, market string, side core.OrderSide, orderType string, price, volume decimal.Decimal) (*core.Order, error) {
	q := url.Values{
		"market":   {market},
		"side":     {sideParam(side)},
		"ord_type": {orderType},
	}
	if orderType == "limit" {
		q.Set("price", price.String())
		q.Set("volume", volume.String())
	} else if side == core.SideBid {
		q.Set("price", price.String()) // market-by-price: "price" carries the quote notional
	} else {
		q.Set("volume", volume.String()) // market-by-volume: "volume" carries the base amount
	}
	q.Set("clientOrderId", NewClientOrderID())

	body, err := r.do(ctx, http.MethodPost, "/v1/orders", q, true)
	if err != nil {
		return nil, err
	}
	return parseOrder(body, side)
}

func sideParam(side core.OrderSide) string {
	if side == core.SideBid {
		return "bid"
	}
	return "ask"
}

func parseOrder(body []byte, side core.OrderSide) (*core.Order, error) {
	var raw struct {
		UUID   string `json:"uuid"`
		Price  string `json:"price"`
		Volume string `json:"volume"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, core.NewError(core.KindPermanent, "restbroker.parseOrder", err)
	}
	price, _ := decimal.NewFromString(raw.Price)
	volume, _ := decimal.NewFromString(raw.Volume)
	return &core.Order{
		ID:     core.OrderID(raw.UUID),
		Side:   side,
		Kind:   core.KindLimit,
		Price:  price,
		Volume: volume,
		State:  mapOrderState(raw.State),
	}, nil
}

func mapOrderState(raw string) core.OrderState {
	switch raw {
	case "done":
		return core.OrderDone
	case "cancel":
		return core.OrderCancelled
	default:
		return core.OrderOpen
	}
}

func (r *RESTBroker) PlaceLimit(ctx context.Context, market string, side core.OrderSide, price, volume decimal.Decimal) (*core.Order, error) {
	return r.placeOrder(ctx, market, side, "limit", price, volume)
}

func (r *RESTBroker) PlaceMarket(ctx context.Context, market string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	if side == core.SideBid {
		return r.placeOrder(ctx, market, side, "price", amount, decimal.Zero)
	}
	return r.placeOrder(ctx, market, side, "market", decimal.Zero, amount)
}

func (r *RESTBroker) GetOrder(ctx context.Context, id core.OrderID) (*core.Order, error) {
	q := url.Values{"uuid": {string(id)}}
	body, err := r.do(ctx, http.MethodGet, "/v1/order", q, true)
	if err != nil {
		return nil, err
	}
	return parseOrder(body, core.SideBid)
}

func (r *RESTBroker) GetOrders(ctx context.Context, ids []core.OrderID) (map[core.OrderID]*core.Order, error) {
	out := make(map[core.OrderID]*core.Order, len(ids))
	for _, id := range ids {
		order, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = order
	}
	return out, nil
}

func (r *RESTBroker) Cancel(ctx context.Context, id core.OrderID) error {
	q := url.Values{"uuid": {string(id)}}
	_, err := r.do(ctx, http.MethodDelete, "/v1/order", q, true)
	if err != nil && core.IsKind(err, core.KindMissingOrder) {
		return nil // already closed: idempotent per core.Broker's contract
	}
	return err
}

func (r *RESTBroker) CancelAll(ctx context.Context, market string) error {
	q := url.Values{"market": {market}}
	_, err := r.do(ctx, http.MethodDelete, "/v1/orders/open", q, true)
	return err
}
