package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pentve/rowcap/internal/events"
)

// Watch connects to a running daemon's /api/events SSE stream and decodes
// each event onto the returned channel. The channel is closed when ctx is
// canceled, the stop function is called, or the server ends the stream.
// baseURL is the daemon's HTTP address, e.g. "http://127.0.0.1:8080".
func Watch(ctx context.Context, baseURL string) (<-chan events.Event, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	url := strings.TrimSuffix(baseURL, "/") + "/api/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("web: watch request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("web: connect %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("web: watch %s: unexpected status %s", url, resp.Status)
	}

	ch := make(chan events.Event, 64)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel, nil
}
