package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     []TrackedRow
	listErr  error
	setErr   error
	kv       map[string]string
	setCalls []string // "guild/channel=live"
}

func (f *fakeStore) ListWithSettings(ctx context.Context) ([]TrackedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]TrackedRow, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeStore) SetLiveStatus(ctx context.Context, guildID int64, channel string, live bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, fmt.Sprintf("%d/%s=%v", guildID, channel, live))
	if f.setErr != nil {
		return f.setErr
	}
	for i := range f.rows {
		if f.rows[i].GuildID == guildID && f.rows[i].ChannelName == channel {
			f.rows[i].Live = live
		}
	}
	return nil
}

func (f *fakeStore) PutKV(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kv == nil {
		f.kv = make(map[string]string)
	}
	f.kv[key] = value
	return nil
}

func (f *fakeStore) status(guildID int64, channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.GuildID == guildID && r.ChannelName == channel {
			return r.Live
		}
	}
	return false
}

type fakeProvider struct {
	mu      sync.Mutex
	answers map[string]Status
	queries [][]string
}

func (f *fakeProvider) LiveSet(ctx context.Context, names []string) map[string]Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, append([]string(nil), names...))
	out := make(map[string]Status, len(names))
	for _, n := range names {
		out[n] = f.answers[n]
	}
	return out
}

type sentMsg struct {
	ChannelID int64
	RoleID    int64
	Content   string
}

type fakeSink struct {
	mu      sync.Mutex
	sent    []sentMsg
	sendErr error
}

func (f *fakeSink) Send(ctx context.Context, channelID, roleID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMsg{ChannelID: channelID, RoleID: roleID, Content: content})
	return nil
}

func ptr(v int64) *int64 { return &v }

func newReconciler(store *fakeStore, provider *fakeProvider, sink *fakeSink) *Reconciler {
	return &Reconciler{Store: store, Provider: provider, Sink: sink, Interval: time.Minute}
}

func TestReconcile_TransitionTable(t *testing.T) {
	// All four (stored, observed) combinations in a single pass.
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "offline_goes_live", Live: false, NotifyChannelID: ptr(100)},
		{GuildID: 1, ChannelName: "offline_stays", Live: false, NotifyChannelID: ptr(100)},
		{GuildID: 1, ChannelName: "live_stays", Live: true, NotifyChannelID: ptr(100)},
		{GuildID: 1, ChannelName: "live_goes_offline", Live: true, NotifyChannelID: ptr(100)},
	}}
	provider := &fakeProvider{answers: map[string]Status{
		"offline_goes_live": {Live: true},
		"offline_stays":     {Live: false},
		"live_stays":        {Live: true},
		"live_goes_offline": {Live: false},
	}}
	sink := &fakeSink{}

	rep := newReconciler(store, provider, sink).ReconcileOnce(context.Background())

	if rep.Checked != 4 {
		t.Errorf("Checked = %d, want 4", rep.Checked)
	}
	if rep.WentLive != 1 || rep.WentOffline != 1 {
		t.Errorf("WentLive/WentOffline = %d/%d, want 1/1", rep.WentLive, rep.WentOffline)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sent %d notifications, want exactly 1", len(sink.sent))
	}
	if sink.sent[0].ChannelID != 100 {
		t.Errorf("notification went to channel %d, want 100", sink.sent[0].ChannelID)
	}
	if !store.status(1, "offline_goes_live") {
		t.Errorf("offline_goes_live not persisted as live")
	}
	if store.status(1, "live_goes_offline") {
		t.Errorf("live_goes_offline not persisted as offline")
	}
	// No-op rows must not be written at all.
	for _, c := range store.setCalls {
		if c == "1/offline_stays=false" || c == "1/live_stays=true" {
			t.Errorf("unexpected status write %q for no-op row", c)
		}
	}
}

func TestReconcile_LiveTwiceNotifiesOnce(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "streamer", NotifyChannelID: ptr(100)},
	}}
	provider := &fakeProvider{answers: map[string]Status{"streamer": {Live: true}}}
	sink := &fakeSink{}
	r := newReconciler(store, provider, sink)

	r.ReconcileOnce(context.Background())
	r.ReconcileOnce(context.Background()) // still live, no intervening offline

	if len(sink.sent) != 1 {
		t.Errorf("sent %d notifications across two live observations, want 1", len(sink.sent))
	}
}

func TestReconcile_TwoEpisodesTwoNotifications(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "streamer", NotifyChannelID: ptr(100)},
	}}
	provider := &fakeProvider{answers: map[string]Status{"streamer": {Live: true}}}
	sink := &fakeSink{}
	r := newReconciler(store, provider, sink)

	ctx := context.Background()
	r.ReconcileOnce(ctx) // rising edge #1
	provider.answers["streamer"] = Status{Live: false}
	r.ReconcileOnce(ctx) // falling edge
	provider.answers["streamer"] = Status{Live: true}
	r.ReconcileOnce(ctx) // rising edge #2

	if len(sink.sent) != 2 {
		t.Errorf("sent %d notifications across two episodes, want 2", len(sink.sent))
	}
}

func TestReconcile_FallingEdgeSilent(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "streamer", Live: true, NotifyChannelID: ptr(100)},
	}}
	provider := &fakeProvider{answers: map[string]Status{"streamer": {Live: false}}}
	sink := &fakeSink{}

	newReconciler(store, provider, sink).ReconcileOnce(context.Background())

	if len(sink.sent) != 0 {
		t.Errorf("falling edge produced %d notifications, want 0", len(sink.sent))
	}
	if store.status(1, "streamer") {
		t.Errorf("streamer not persisted as offline")
	}
}

func TestReconcile_ProviderErrorIsolatedPerRow(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "broken", NotifyChannelID: ptr(100)},
		{GuildID: 1, ChannelName: "healthy", NotifyChannelID: ptr(100)},
	}}
	provider := &fakeProvider{answers: map[string]Status{
		"broken":  {Err: errors.New("helix request failed: status 500")},
		"healthy": {Live: true},
	}}
	sink := &fakeSink{}

	rep := newReconciler(store, provider, sink).ReconcileOnce(context.Background())

	if len(rep.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(rep.Failures))
	}
	if rep.Failures[0].Channel != "broken" || rep.Failures[0].GuildID != 1 {
		t.Errorf("failure key = %d/%s, want 1/broken", rep.Failures[0].GuildID, rep.Failures[0].Channel)
	}
	if len(sink.sent) != 1 {
		t.Errorf("healthy sibling sent %d notifications, want 1", len(sink.sent))
	}
	if !store.status(1, "healthy") {
		t.Errorf("healthy sibling status not persisted")
	}
	if store.status(1, "broken") {
		t.Errorf("errored row status must not change")
	}
}

func TestReconcile_NoDestinationStillUpdatesStatus(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "streamer"}, // no settings row at all
	}}
	provider := &fakeProvider{answers: map[string]Status{"streamer": {Live: true}}}
	sink := &fakeSink{}

	newReconciler(store, provider, sink).ReconcileOnce(context.Background())

	if len(sink.sent) != 0 {
		t.Errorf("unconfigured guild produced %d deliveries, want 0", len(sink.sent))
	}
	if !store.status(1, "streamer") {
		t.Errorf("status not persisted for unconfigured guild")
	}
}

func TestReconcile_DeliveryFailureStillPersists(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "streamer", NotifyChannelID: ptr(100)},
	}}
	provider := &fakeProvider{answers: map[string]Status{"streamer": {Live: true}}}
	sink := &fakeSink{sendErr: errors.New("unknown channel")}

	rep := newReconciler(store, provider, sink).ReconcileOnce(context.Background())

	if rep.Notified != 0 {
		t.Errorf("Notified = %d, want 0", rep.Notified)
	}
	if len(rep.Failures) != 1 {
		t.Errorf("Failures = %d, want 1", len(rep.Failures))
	}
	if !store.status(1, "streamer") {
		t.Errorf("status must still be persisted when delivery fails")
	}

	// The failed episode is not re-announced next pass.
	sink.sendErr = nil
	newReconciler(store, provider, sink).ReconcileOnce(context.Background())
	if len(sink.sent) != 0 {
		t.Errorf("failed delivery was retried on next pass; want none")
	}
}

func TestReconcile_SharedChannelQueriedOnceNotifiedPerGuild(t *testing.T) {
	store := &fakeStore{rows: []TrackedRow{
		{GuildID: 1, ChannelName: "streamer", NotifyChannelID: ptr(100)},
		{GuildID: 2, ChannelName: "streamer", NotifyChannelID: ptr(200), PingRoleID: ptr(7)},
	}}
	provider := &fakeProvider{answers: map[string]Status{"streamer": {Live: true}}}
	sink := &fakeSink{}

	newReconciler(store, provider, sink).ReconcileOnce(context.Background())

	if len(provider.queries) != 1 || len(provider.queries[0]) != 1 {
		t.Errorf("provider queries = %v, want one query with one distinct name", provider.queries)
	}
	if len(sink.sent) != 2 {
		t.Fatalf("sent %d notifications, want one per guild", len(sink.sent))
	}
	var sawRole bool
	for _, m := range sink.sent {
		if m.ChannelID == 200 && m.RoleID == 7 {
			sawRole = true
		}
	}
	if !sawRole {
		t.Errorf("guild 2's notification missing its ping role: %+v", sink.sent)
	}
}

func TestReconcile_ListFailureReturnsReport(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	rep := newReconciler(store, &fakeProvider{}, &fakeSink{}).ReconcileOnce(context.Background())
	if len(rep.Failures) != 1 {
		t.Errorf("Failures = %d, want 1", len(rep.Failures))
	}
	if rep.Checked != 0 {
		t.Errorf("Checked = %d, want 0", rep.Checked)
	}
}

func TestGoLiveMessage(t *testing.T) {
	got := GoLiveMessage("streamer")
	want := "`streamer` is now live! Watch here: https://twitch.tv/streamer"
	if got != want {
		t.Errorf("GoLiveMessage() = %q, want %q", got, want)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	r := &Reconciler{Store: store, Provider: &fakeProvider{}, Sink: &fakeSink{}, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
