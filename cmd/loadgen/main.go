// Command loadgen drives the developer injection path with synthetic chat
// traffic for load and soak testing. The target server must run with
// DEV_INJECT_ENABLED=1.
//
// Usage:
//
//	loadgen [--url URL] [--rate N] [--batch N] [--duration D] [--token TOKEN]
//
// ADMIN_TOKEN is used when --token is not given.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/onnwee/multichat/message"
)

type options struct {
	url      string
	rate     float64
	batch    int
	duration time.Duration
	token    string
}

type stats struct {
	sent     atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func main() {
	var opts options
	flag.StringVar(&opts.url, "url", "http://localhost:8080/admin/dev/inject", "injection endpoint")
	flag.Float64Var(&opts.rate, "rate", 50, "messages per second")
	flag.IntVar(&opts.batch, "batch", 1, "messages per request")
	flag.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flag.StringVar(&opts.token, "token", os.Getenv("ADMIN_TOKEN"), "X-Admin-Token for the injection endpoint")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	var st stats
	start := time.Now()
	err := run(ctx, &http.Client{Timeout: 10 * time.Second}, opts, rand.New(rand.NewSource(time.Now().UnixNano())), &st) //nolint:gosec // G404: synthetic content only
	elapsed := time.Since(start)
	slog.Info("loadgen finished",
		slog.Int64("sent", st.sent.Load()),
		slog.Int64("rejected", st.rejected.Load()),
		slog.Int64("failed", st.failed.Load()),
		slog.Duration("elapsed", elapsed),
		slog.Float64("rate", float64(st.sent.Load())/elapsed.Seconds()))
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("loadgen failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// run posts batches until ctx ends, paced so the overall message rate matches opts.rate.
func run(ctx context.Context, hc *http.Client, opts options, rng *rand.Rand, st *stats) error {
	if opts.batch <= 0 {
		opts.batch = 1
	}
	if opts.rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", opts.rate)
	}
	limiter := rate.NewLimiter(rate.Limit(opts.rate), opts.batch)

	for {
		if err := limiter.WaitN(ctx, opts.batch); err != nil {
			return err
		}
		batch := make([]message.Message, opts.batch)
		for i := range batch {
			batch[i] = randomMessage(rng, time.Now())
		}
		if err := post(ctx, hc, opts, batch, st); err != nil {
			return err
		}
	}
}

// post sends one batch. Only transport errors on a live context are fatal;
// server rejections are counted.
func post(ctx context.Context, hc *http.Client, opts options, batch []message.Message, st *stats) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.token != "" {
		req.Header.Set("X-Admin-Token", opts.token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.failed.Add(int64(len(batch)))
		slog.Warn("inject request failed", slog.Any("err", err))
		return nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusAccepted:
		st.sent.Add(int64(len(batch)))
	case resp.StatusCode == http.StatusNotFound:
		return errors.New("injection endpoint not found; start the server with DEV_INJECT_ENABLED=1")
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.New("unauthorized; pass --token or set ADMIN_TOKEN")
	default:
		st.rejected.Add(int64(len(batch)))
		slog.Warn("inject rejected", slog.Int("status", resp.StatusCode))
	}
	return nil
}

var (
	users = []string{"pixelfox", "midnightbard", "turbo_snail", "quietstorm", "glitchwitch", "nightowl42"}
	lines = []string{
		"hello chat", "PogChamp", "that was close", "gg", "first time here!",
		"what game is this?", "lol", "clip it", "let's go", "hi from the other stream",
	}
)

// randomMessage builds a canonical message across every platform and type.
func randomMessage(rng *rand.Rand, now time.Time) message.Message {
	m := message.Message{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Platform:  message.Platforms[rng.Intn(len(message.Platforms))],
		User:      users[rng.Intn(len(users))],
		Message:   lines[rng.Intn(len(lines))],
		Type:      message.TypeChat,
		Metadata:  map[string]any{"loadgen": true},
	}
	switch n := rng.Intn(100); {
	case n < 3:
		m.Type = message.TypeSuperchat
		m.Metadata["amount"] = fmt.Sprintf("$%d.00", 1+rng.Intn(50))
	case n < 6:
		m.Type = message.TypeGift
		m.Metadata["count"] = 1 + rng.Intn(10)
	case n < 10:
		m.Type = message.TypeHighlight
	}
	return m
}
