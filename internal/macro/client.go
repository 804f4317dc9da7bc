// client.go talks to the minute-candle provider.
//
// The provider exposes one endpoint:
//
//	GET /candles?symbol=<key>&interval=1m&start=<ms>&end=<ms>
//
// returning a JSON array of {ts, open, high, low, close, volume} with
// ts in epoch milliseconds. Requests carry an X-API-Key header when a
// key is configured, are paced by a shared token bucket, and retry on
// transport errors and 5xx responses.
package macro

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"cryptolake/internal/config"
	"cryptolake/pkg/types"
)

// Client fetches minute candles for macro reference assets.
type Client struct {
	http    *resty.Client
	limiter *TokenBucket
	logger  *slog.Logger
}

// NewClient creates a provider client with rate limiting and retry.
func NewClient(cfg config.MacroConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		httpClient.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &Client{
		http:    httpClient,
		limiter: NewTokenBucket(cfg.RequestsPerSec, cfg.RequestsPerSec),
		logger:  logger,
	}
}

// candle is the provider's wire row. Prices are pointers so a row with
// null prices is dropped rather than read as zero.
type candle struct {
	Ts     int64    `json:"ts"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

// FetchMinuteBars pulls 1m candles for key covering [start, end),
// normalised to UTC MacroBar rows sorted by timestamp. Rows missing
// any price are dropped; a missing volume reads as zero.
func (c *Client) FetchMinuteBars(ctx context.Context, key string, start, end time.Time) ([]types.MacroBar, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result []candle
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   key,
			"interval": "1m",
			"start":    strconv.FormatInt(start.UnixMilli(), 10),
			"end":      strconv.FormatInt(end.UnixMilli(), 10),
		}).
		SetResult(&result).
		Get("/candles")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d: %s", key, resp.StatusCode(), resp.String())
	}

	bars := make([]types.MacroBar, 0, len(result))
	dropped := 0
	for _, k := range result {
		if k.Open == nil || k.High == nil || k.Low == nil || k.Close == nil {
			dropped++
			continue
		}
		var volume float64
		if k.Volume != nil {
			volume = *k.Volume
		}
		bars = append(bars, types.MacroBar{
			Ts:     time.UnixMilli(k.Ts).UTC(),
			Open:   *k.Open,
			High:   *k.High,
			Low:    *k.Low,
			Close:  *k.Close,
			Volume: volume,
			Key:    key,
		})
	}
	if dropped > 0 {
		c.logger.Debug("dropped rows with null prices", "key", key, "rows", dropped)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return bars, nil
}
