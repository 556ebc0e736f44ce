package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gravitas-games/forge/internal/inventory"
)

// ErrServiceUnavailable is returned when a remote synthesis service cannot
// produce an item. The craft is compensated and may be retried.
var ErrServiceUnavailable = errors.New("crafting service unavailable")

// Remote calls a synthesis service over HTTP, such as another forge server's
// POST /api/craft endpoint.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a client for the endpoint at url. A zero timeout means
// the caller's context alone bounds the request.
func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{url: url, client: &http.Client{Timeout: timeout}}
}

// Synthesize implements Synthesizer.
func (r *Remote) Synthesize(ctx context.Context, category Category, consumed inventory.Counts) (CraftedItem, error) {
	body, err := json.Marshal(Request{Category: category, Materials: consumed})
	if err != nil {
		return CraftedItem{}, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return CraftedItem{}, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return CraftedItem{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CraftedItem{}, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CraftedItem{}, fmt.Errorf("%w: bad response: %v", ErrServiceUnavailable, err)
	}
	if !out.Success || out.Weapon == nil {
		return CraftedItem{}, fmt.Errorf("%w: %s", ErrServiceUnavailable, out.Error)
	}
	return *out.Weapon, nil
}
