package feed

import (
	"context"
	"strings"
	"time"

	"github.com/betbot/arena/pkg/cache"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// defaultRESTBase Binance spot REST API base URL.
const defaultRESTBase = "https://api.binance.com"

// RESTClient is a thin spot-ticker client used as the snapshot fallback
// when the websocket stream is down or stale.
type RESTClient struct {
	client *resty.Client
	prices *cache.PriceCache
}

// NewRESTClient builds a REST client. resty picks up HTTP(S)_PROXY from the
// environment; an explicit proxyURL overrides it.
func NewRESTClient(proxyURL string) *RESTClient {
	client := resty.New().
		SetBaseURL(defaultRESTBase).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second)
	if strings.TrimSpace(proxyURL) != "" {
		client.SetProxy(proxyURL)
	}
	return &RESTClient{
		client: client,
		prices: cache.NewPriceCache(),
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// TickerPrice fetches the latest traded price for symbol. Successful reads
// are cached briefly so a burst of snapshot requests inside one round does
// not hammer the API.
func (c *RESTClient) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, errors.New("symbol is required")
	}

	if price, ok := c.prices.Get(symbol); ok {
		return price, nil
	}

	var out tickerResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v3/ticker/price")
	if err != nil {
		return 0, errors.Wrap(err, "ticker price request")
	}
	if resp.IsError() {
		return 0, errors.Errorf("ticker price status %d: %s", resp.StatusCode(), resp.String())
	}

	price, ok := parseFloat(out.Price)
	if !ok || price <= 0 {
		return 0, errors.Errorf("ticker price malformed: %q", out.Price)
	}
	c.prices.Set(symbol, price)
	return price, nil
}
