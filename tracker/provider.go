package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/varkst/livewatch/twitchapi"
)

// helix caps user_id params per /helix/streams request.
const streamsBatchSize = 100

// Status is the provider's answer for one channel name. A per-name failure is
// carried in Err so one bad channel never poisons its siblings.
type Status struct {
	Live bool
	Err  error
}

// HelixProvider answers live-status questions over the Twitch Helix API.
// Login→user-id resolutions are cached across passes (ids are stable), and
// all outbound requests share a rate limiter.
type HelixProvider struct {
	Helix       *twitchapi.HelixClient
	Limiter     *rate.Limiter
	Concurrency int // bound on concurrent id resolutions; <=0 means 4

	mu  sync.RWMutex
	ids map[string]string // login -> user id
}

// NewHelixProvider wires a rate-limited provider around a Helix client.
func NewHelixProvider(hc *twitchapi.HelixClient, rps float64, burst, concurrency int) *HelixProvider {
	return &HelixProvider{
		Helix:       hc,
		Limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		Concurrency: concurrency,
		ids:         make(map[string]string),
	}
}

func (p *HelixProvider) wait(ctx context.Context) error {
	if p.Limiter == nil {
		return nil
	}
	return p.Limiter.Wait(ctx)
}

func (p *HelixProvider) cachedID(login string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.ids[login]
	return id, ok
}

func (p *HelixProvider) resolve(ctx context.Context, login string) (string, error) {
	if id, ok := p.cachedID(login); ok {
		return id, nil
	}
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	id, err := p.Helix.GetUserID(ctx, login)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.ids[login] = id
	p.mu.Unlock()
	return id, nil
}

// LiveSet resolves the live status of each distinct channel name. Unknown
// logins are reported as offline (logged, not an error); transport or API
// failures are recorded per name in the result.
func (p *HelixProvider) LiveSet(ctx context.Context, names []string) map[string]Status {
	out := make(map[string]Status, len(names))
	idToName := make(map[string]string, len(names))

	limit := p.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		name := name
		g.Go(func() error {
			id, err := p.resolve(gctx, name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, twitchapi.ErrUserNotFound):
				// Policy: a login Twitch does not know is treated as offline
				// for this pass, not as a row failure.
				slog.Warn("channel unknown to twitch", slog.String("channel", name))
				out[name] = Status{}
			case err != nil:
				out[name] = Status{Err: err}
			default:
				out[name] = Status{}
				idToName[id] = name
				return nil
			}
			return nil
		})
	}
	_ = g.Wait() // per-name errors are in out; nothing escapes the group

	ids := make([]string, 0, len(idToName))
	for id := range idToName {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += streamsBatchSize {
		end := start + streamsBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if err := p.wait(ctx); err != nil {
			p.failChunk(out, idToName, chunk, err)
			continue
		}
		streams, err := p.Helix.GetStreams(ctx, chunk...)
		if err != nil {
			p.failChunk(out, idToName, chunk, err)
			continue
		}
		for _, s := range streams {
			if name, ok := idToName[s.UserID]; ok {
				out[name] = Status{Live: true}
			}
		}
	}
	return out
}

func (p *HelixProvider) failChunk(out map[string]Status, idToName map[string]string, chunk []string, err error) {
	for _, id := range chunk {
		name := idToName[id]
		if out[name].Err == nil {
			out[name] = Status{Err: err}
		}
	}
}
