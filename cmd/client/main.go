package main

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/minhvt/candlecast/model/candle"
)

func main() {
	addr     := getEnv("SERVER_ADDR", "ws://localhost:8081/ws")
	symbol   := getEnv("SYMBOL",      "BTCUSDT")
	interval := getEnv("INTERVAL",    "1m")
	nKline   := getEnvInt("N_KLINE",  48)

	ch := make(chan *candle.Candle, 128)
	go func() {
		for {
			if err := streamCandles(addr, symbol, interval, ch); err != nil {
				log.Printf("stream error: %v — retrying in 3s", err)
			}
			time.Sleep(3 * time.Second)
		}
	}()

	p := tea.NewProgram(
		newModel(symbol, interval, nKline, ch),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		log.Fatalf("tui error: %v", err)
	}
}

// streamCandles dials the server, subscribes to one pair, and pumps every
// received candle into ch until the connection drops.
func streamCandles(addr, symbol, interval string, ch chan<- *candle.Candle) error {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]string{
		"type":     "SUBSCRIBE",
		"symbol":   symbol,
		"interval": interval,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var c candle.Candle
		if err := json.Unmarshal(data, &c); err != nil {
			log.Printf("skip malformed message: %v", err)
			continue
		}
		ch <- &c
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
