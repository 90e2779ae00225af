package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"projectflow/internal/config"
	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/logger"
	"projectflow/internal/store"
)

const (
	defaultHookInterval = 2 * time.Second
	defaultHookTimeout  = 5 * time.Second
	defaultHookBatch    = 100
)

// EventHooks streams audit events to the configured URLs. Each hook keeps
// its own cursor, starting at the newest event when the dispatcher starts;
// a failed delivery is retried from the same event on the next tick.
type EventHooks struct {
	engine   engine.Engine
	hooks    []config.EventHook
	client   *http.Client
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

func NewEventHooks(e engine.Engine, hooks []config.EventHook) *EventHooks {
	return &EventHooks{
		engine:   e,
		hooks:    hooks,
		client:   &http.Client{Timeout: defaultHookTimeout},
		interval: defaultHookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run dispatches until ctx is done.
func (d *EventHooks) Run(ctx context.Context) {
	if len(d.hooks) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *EventHooks) DispatchAll(ctx context.Context) {
	for i, hook := range d.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchHook(ctx, i, hook)
	}
}

func (d *EventHooks) dispatchHook(ctx context.Context, idx int, hook config.EventHook) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	events, err := d.engine.EventsAfter(ctx, store.EventFilter{Ascending: true, After: cursor, Limit: defaultHookBatch})
	if err != nil {
		logger.Warn().Err(err).Msg("event hook: fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			logger.Warn().Err(err).Str("url", hook.URL).Int64("event_id", evt.ID).Msg("event hook: delivery failed")
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *EventHooks) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.engine.LatestEventID(ctx, "")
	if err != nil {
		logger.Warn().Err(err).Msg("event hook: init cursor failed")
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *EventHooks) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *EventHooks) postEvent(ctx context.Context, hook config.EventHook, evt domain.Event) error {
	data, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Projectflow-Event", evt.Type)
	req.Header.Set("X-Projectflow-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.ProjectID != "" {
		req.Header.Set("X-Projectflow-Project", evt.ProjectID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Projectflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
