// Package chain talks to a BCH node gateway: it fetches and validates
// transaction outputs, broadcasts settlement transactions and reports
// address balances.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/singleflight"

	"github.com/utxotab/facilitator/internal/ledger"
	klog "github.com/utxotab/facilitator/internal/log"
)

// Gateway API flavors. The consumer API is a JSON-POST surface; the REST
// API addresses resources by path.
const (
	APIConsumer = "consumer-api"
	APIREST     = "rest-api"
)

// ReasonInvalidUTXO marks an output that exists but is not spendable for
// payment: already spent, or below the confirmation floor.
const ReasonInvalidUTXO = "invalid_utxo"

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 250 * time.Millisecond
)

// Output is one recipient of a settlement broadcast.
type Output struct {
	Address   string          `json:"address"`
	AmountSat ledger.Satoshis `json:"amountSat"`
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIType       string // APIConsumer or APIREST
	BearerToken   string
	ServerAddress string // facilitator's receiving address; outputs must pay it
	MinConf       int
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RatePerSec    int // 0 = unlimited
}

// Client is the HTTP chain client. Reads are rate-limited, coalesced per
// outpoint and retried with backoff; broadcasts are never retried.
type Client struct {
	base       string
	apiType    string
	bearer     string
	serverAddr string
	minConf    int
	http       *http.Client
	limiter    ratelimit.Limiter
	group      singleflight.Group
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// New creates a chain client. Unset Options fields take defaults.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	limiter := ratelimit.NewUnlimited()
	if opts.RatePerSec > 0 {
		limiter = ratelimit.New(opts.RatePerSec)
	}
	apiType := opts.APIType
	if apiType == "" {
		apiType = APIConsumer
	}
	return &Client{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		apiType:    apiType,
		bearer:     opts.BearerToken,
		serverAddr: opts.ServerAddress,
		minConf:    opts.MinConf,
		http:       &http.Client{Timeout: timeout},
		limiter:    limiter,
		maxRetries: retries,
		retryDelay: delay,
		logger:     klog.Chain,
	}
}

// utxoInfo is the gateway's view of one transaction output.
type utxoInfo struct {
	TxID          string          `json:"txid"`
	Vout          uint32          `json:"vout"`
	ValueSat      ledger.Satoshis `json:"valueSat"`
	Address       string          `json:"address"`
	Confirmations int             `json:"confirmations"`
	Spent         bool            `json:"spent"`
}

type sendRequest struct {
	Outputs []Output `json:"outputs"`
}

type sendResponse struct {
	TxID string `json:"txid"`
}

type balanceResponse struct {
	BalanceSat ledger.Satoshis `json:"balanceSat"`
}

// statusError carries a non-2xx gateway status. 5xx responses are
// retryable, everything else is final.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool { return e.code >= 500 }

// ValidateUTXO fetches an outpoint and decides whether it can back a
// payment. Concurrent calls for the same outpoint share one fetch.
func (c *Client) ValidateUTXO(ctx context.Context, txid string, vout uint32) (ledger.UTXOCheck, error) {
	key := ledger.UTXOKey(txid, vout)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		var info utxoInfo
		err := c.getWithRetry(ctx, c.utxoPath(txid, vout), &info)
		if err != nil {
			return nil, err
		}
		return &info, nil
	})
	if err != nil {
		if se, ok := err.(*statusError); ok && se.code == http.StatusNotFound {
			return ledger.UTXOCheck{Reason: ledger.ReasonUTXONotFound}, nil
		}
		return ledger.UTXOCheck{}, err
	}
	info := v.(*utxoInfo)

	switch {
	case info.Spent:
		c.logger.Debug().Str("utxo", key).Msg("output already spent")
		return ledger.UTXOCheck{Reason: ReasonInvalidUTXO}, nil
	case info.Confirmations < c.minConf:
		c.logger.Debug().Str("utxo", key).Int("confirmations", info.Confirmations).Msg("output below confirmation floor")
		return ledger.UTXOCheck{Reason: ReasonInvalidUTXO}, nil
	case !strings.EqualFold(info.Address, c.serverAddr):
		return ledger.UTXOCheck{Reason: ledger.ReasonInvalidReceiverAddress}, nil
	}

	return ledger.UTXOCheck{
		Valid:           true,
		AmountSat:       info.ValueSat,
		ReceiverAddress: info.Address,
	}, nil
}

// Send broadcasts a transaction paying the given outputs and returns its
// txid. Broadcasts are never retried; a failure surfaces directly.
func (c *Client) Send(ctx context.Context, outputs []Output) (string, error) {
	if len(outputs) == 0 {
		return "", fmt.Errorf("no outputs to send")
	}
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, c.sendPath(), sendRequest{Outputs: outputs}, &resp); err != nil {
		return "", err
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("gateway returned no txid")
	}
	return resp.TxID, nil
}

// Balance reports the confirmed balance of an address in satoshis.
func (c *Client) Balance(ctx context.Context, address string) (ledger.Satoshis, error) {
	var resp balanceResponse
	if err := c.getWithRetry(ctx, c.balancePath(address), &resp); err != nil {
		return 0, err
	}
	return resp.BalanceSat, nil
}

func (c *Client) utxoPath(txid string, vout uint32) string {
	if c.apiType == APIREST {
		return fmt.Sprintf("%s/utxo/%s/%d", c.base, txid, vout)
	}
	return fmt.Sprintf("%s/api/v1/utxo?txid=%s&vout=%d", c.base, url.QueryEscape(txid), vout)
}

func (c *Client) sendPath() string {
	if c.apiType == APIREST {
		return c.base + "/tx/send"
	}
	return c.base + "/api/v1/send"
}

func (c *Client) balancePath(address string) string {
	if c.apiType == APIREST {
		return c.base + "/address/" + url.PathEscape(address) + "/balance"
	}
	return c.base + "/api/v1/balance?address=" + url.QueryEscape(address)
}

// getWithRetry issues a read with bounded retries and linear backoff.
// Only transport failures and 5xx responses are retried.
func (c *Client) getWithRetry(ctx context.Context, path string, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.logger.Debug().Str("path", path).Int("attempt", attempt).Msg("retrying chain read")
		}
		err := c.do(ctx, http.MethodGet, path, nil, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if se, ok := err.(*statusError); ok && !se.retryable() {
			return err
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	c.limiter.Take()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
