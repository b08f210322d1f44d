package provider

import (
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChainlinkFetchTicker(t *testing.T) {
	answer := big.NewInt(9700050000000) // 97000.50 with 8 decimals
	result := fmt.Sprintf("0x%064x%064x%064x%064x%064x",
		big.NewInt(1000), answer, big.NewInt(1700000000), big.NewInt(1700000000), big.NewInt(1000))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":"%s"}`, result)
	}))
	defer srv.Close()

	c := NewChainlinkClient()
	c.rpcURL = srv.URL

	ticker, err := c.FetchTicker("BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker failed: %v", err)
	}
	if ticker.Last.String() != "97000.5" {
		t.Errorf("Expected last 97000.5, got %s", ticker.Last)
	}
	if ticker.Timestamp != 1700000000000 {
		t.Errorf("Expected timestamp in millis, got %d", ticker.Timestamp)
	}
}

func TestChainlinkUnknownFeed(t *testing.T) {
	c := NewChainlinkClient()
	if _, err := c.FetchTicker("DOGE/USD"); err == nil {
		t.Error("Expected error for symbol without a feed")
	}
}

func TestChainlinkUnsupportedKinds(t *testing.T) {
	c := NewChainlinkClient()
	if _, err := c.FetchOHLCV("BTC/USD", "1h", 10); err == nil {
		t.Error("Expected error for ohlcv")
	}
	if _, err := c.FetchTrades("BTC/USD", 10); err == nil {
		t.Error("Expected error for trades")
	}
	if _, err := c.FetchOrderBook("BTC/USD", 10); err == nil {
		t.Error("Expected error for orderbook")
	}
}

func TestChainlinkLoadMarkets(t *testing.T) {
	c := NewChainlinkClient()
	markets, err := c.LoadMarkets()
	if err != nil {
		t.Fatalf("LoadMarkets failed: %v", err)
	}
	if _, ok := markets["BTC/USD"]; !ok {
		t.Error("Expected BTC/USD feed in catalog")
	}
}
