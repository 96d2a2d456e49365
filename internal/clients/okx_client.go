package clients

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	okxBaseURL = "https://www.okx.com"
	// OKX allows 60 requests per 2 seconds on the trade endpoints; stay well under.
	okxRequestsPerSecond = 10
)

// ErrAuthentication marks credential rejections. Callers treat these as
// permanent and must not retry them.
var ErrAuthentication = errors.New("venue rejected the API credentials")

// OkxClient is a minimal signed REST client for the OKX v5 API. There is no
// OKX SDK in the dependency set, so requests are built and signed by hand.
type OkxClient struct {
	apiKey     string
	apiSecret  string
	passphrase string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOkxClient(apiKey, apiSecret, passphrase string) *OkxClient {
	return &OkxClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		baseURL:    okxBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(okxRequestsPerSecond), okxRequestsPerSecond),
	}
}

// WithBaseURL overrides the API host, used in tests.
func (c *OkxClient) WithBaseURL(u string) *OkxClient {
	c.baseURL = u
	return c
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// OkxOrderAck is the acknowledgement returned by the place-order endpoint.
type OkxOrderAck struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

// OkxOrderDetail is the subset of order state used to read fill prices.
type OkxOrderDetail struct {
	OrdID  string `json:"ordId"`
	State  string `json:"state"`
	AvgPx  string `json:"avgPx"`
	FillSz string `json:"accFillSz"`
	FeeCcy string `json:"feeCcy"`
	Fee    string `json:"fee"`
}

// OkxBalanceDetail is one currency entry of the account balance response.
type OkxBalanceDetail struct {
	Ccy      string `json:"ccy"`
	AvailBal string `json:"availBal"`
}

// PlaceMarketOrder submits a spot market order sized in base units.
func (c *OkxClient) PlaceMarketOrder(ctx context.Context, instID, side, size string) (*OkxOrderAck, error) {
	body := map[string]string{
		"instId":  instID,
		"tdMode":  "cash",
		"side":    side,
		"ordType": "market",
		"sz":      size,
		// market orders default to quote-currency sizing; force base units so
		// both legs of an arbitrage carry the identical quantity
		"tgtCcy": "base_ccy",
	}

	var acks []OkxOrderAck
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &acks); err != nil {
		return nil, err
	}
	if len(acks) == 0 {
		return nil, errors.New("okx returned empty order ack")
	}
	if acks[0].SCode != "0" && acks[0].SCode != "" {
		return nil, errors.Errorf("okx order rejected: code=%s msg=%s", acks[0].SCode, acks[0].SMsg)
	}
	return &acks[0], nil
}

// GetOrder fetches order state, used to read the average fill price.
func (c *OkxClient) GetOrder(ctx context.Context, instID, ordID string) (*OkxOrderDetail, error) {
	query := url.Values{}
	query.Set("instId", instID)
	query.Set("ordId", ordID)

	var details []OkxOrderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", query, nil, &details); err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, errors.Errorf("okx order %s not found", ordID)
	}
	return &details[0], nil
}

// FetchBalances returns available balances per currency.
func (c *OkxClient) FetchBalances(ctx context.Context) ([]OkxBalanceDetail, error) {
	var accounts []struct {
		Details []OkxBalanceDetail `json:"details"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0].Details, nil
}

func (c *OkxClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal okx request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build okx request")
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, payload))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "okx %s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read okx response")
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrapf(err, "decode okx response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || env.Code == "50111" || env.Code == "50113" {
		return errors.Wrapf(ErrAuthentication, "okx: %s", env.Msg)
	}
	if env.Code != "0" {
		return errors.Errorf("okx API error: code=%s msg=%s", env.Code, env.Msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode okx payload")
		}
	}
	return nil
}

func (c *OkxClient) sign(ts, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	fmt.Fprintf(mac, "%s%s%s", ts, method, requestPath)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
