// Package clients constructs venue API clients from credentials.
package clients

import (
	"github.com/adshao/go-binance/v2"
)

func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
