package extract

import (
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

const (
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	wsol = "So11111111111111111111111111111111111111112"
)

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress(usdc))
	assert.True(t, IsAddress(bonk))
	assert.True(t, IsAddress(wsol))

	// Random keys always round-trip.
	for i := 0; i < 50; i++ {
		key := make([]byte, 32)
		key[0] = byte(i + 1)
		key[31] = byte(255 - i)
		assert.True(t, IsAddress(base58.Encode(key)))
	}
}

func TestIsAddress_NearMisses(t *testing.T) {
	cases := map[string]string{
		"too short":     usdc[:31],
		"too long":      usdc + "x",
		"zero digit":    "0" + usdc[1:],
		"capital O":     "O" + usdc[1:],
		"capital I":     "I" + usdc[1:],
		"lowercase l":   "l" + usdc[1:],
		"empty":         "",
		"decodes to 33": base58.Encode(make([]byte, 33)),
		"decodes to 24": base58.Encode([]byte(strings.Repeat("\xff", 24))),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, IsAddress(s), s)
		})
	}
}

func TestFromText(t *testing.T) {
	text := "new gem " + usdc + " and " + bonk + ", also " + usdc + " again"
	got := FromText(text)
	assert.Equal(t, []solana.Pubkey{usdc, bonk, usdc}, got)

	assert.Empty(t, FromText("nothing to see here"))
	assert.Empty(t, FromText(usdc+"x "+usdc[:31]))
}

func TestFromText_NoSubstringMatch(t *testing.T) {
	// A 60-char base58 run must not yield a 44-char prefix.
	long := usdc + bonk[:16]
	assert.Empty(t, FromText(long))

	// A bad character inside the run voids the whole word.
	assert.Empty(t, FromText(usdc[:20]+"0"+usdc[21:]))
}

func TestExtractor_FromLink(t *testing.T) {
	e := New(DefaultHosts)

	addr, ok := e.FromLink("https://dexscreener.com/solana/" + usdc)
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey(usdc), addr)

	addr, ok = e.FromLink("https://solscan.io/token/" + bonk + "?cluster=mainnet")
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey(bonk), addr)

	addr, ok = e.FromLink("pump.fun/coin/" + wsol)
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey(wsol), addr)

	addr, ok = e.FromLink("https://www.birdeye.so/token/" + usdc)
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey(usdc), addr)
}

func TestExtractor_FromLink_Rejects(t *testing.T) {
	e := New(DefaultHosts)

	_, ok := e.FromLink("https://evil.example/solana/" + usdc)
	assert.False(t, ok, "host not allowed")

	_, ok = e.FromLink("https://notdexscreener.com/solana/" + usdc)
	assert.False(t, ok, "suffix without dot")

	_, ok = e.FromLink("https://dexscreener.com/solana")
	assert.False(t, ok, "no address")

	_, ok = e.FromLink("https://dexscreener.com/solana/" + usdc + "x")
	assert.False(t, ok, "too long")
}

func TestExtractor_NoHostFilter(t *testing.T) {
	e := New(nil)
	addr, ok := e.FromLink("https://anything.example/" + usdc)
	require.True(t, ok)
	assert.Equal(t, solana.Pubkey(usdc), addr)
}

func TestExtractor_FromLinks_DedupOrdered(t *testing.T) {
	e := New(DefaultHosts)
	links := []string{
		"https://dexscreener.com/solana/" + bonk,
		"https://twitter.com/someone",
		"https://solscan.io/token/" + usdc,
		"https://dexscreener.com/solana/" + bonk,
	}
	assert.Equal(t, []solana.Pubkey{bonk, usdc}, e.FromLinks(links))
	assert.Empty(t, e.FromLinks(nil))
}

func TestLinks(t *testing.T) {
	text := "aped https://dexscreener.com/solana/" + usdc + ". also (https://pump.fun/coin/" + bonk + ") lol"
	links := Links(text)
	require.Len(t, links, 2)
	assert.Equal(t, "https://dexscreener.com/solana/"+usdc, links[0])
	assert.Equal(t, "https://pump.fun/coin/"+bonk, links[1])
}
