package redis

import (
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNamespacing(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	c := Wrap(rdb, "")
	assert.Equal(t, "quantbot:price:BTCUSDT", c.Key("price", "BTCUSDT"))

	c = Wrap(rdb, "desk1:")
	assert.Equal(t, "desk1:lock:bot:binance_BTCUSDT", c.Key("lock", "bot:binance_BTCUSDT"))
}

func TestParsePrice(t *testing.T) {
	price, ts, ok, err := parsePrice(map[string]string{"price": "101.25", "ts": "1700000000000000000"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 101.25, price)
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, _, ok, err = parsePrice(map[string]string{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = parsePrice(map[string]string{"price": "abc"})
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("events:*"))
	assert.False(t, hasPattern("events"))
}
