package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/varkst/livewatch/telemetry"
)

// SubscriptionStore is the slice of Store the reconcile loop needs.
type SubscriptionStore interface {
	ListWithSettings(ctx context.Context) ([]TrackedRow, error)
	SetLiveStatus(ctx context.Context, guildID int64, channel string, live bool) error
	PutKV(ctx context.Context, key, value string) error
}

// StatusProvider answers which channels are currently live, isolating
// failures per channel name.
type StatusProvider interface {
	LiveSet(ctx context.Context, names []string) map[string]Status
}

// NotificationSink delivers one message to a destination channel, optionally
// mentioning a role. roleID 0 means no mention.
type NotificationSink interface {
	Send(ctx context.Context, channelID, roleID int64, content string) error
}

// RowError ties a per-row failure to its identifying key for logging.
type RowError struct {
	GuildID int64
	Channel string
	Err     error
}

// Report summarizes one reconcile pass.
type Report struct {
	Checked     int
	Live        int
	WentLive    int
	WentOffline int
	Notified    int
	Failures    []RowError
}

// Reconciler drives the poll/notify/persist loop. All collaborators are
// injected at construction; the loop itself holds no state across passes
// beyond what it re-reads, so a process restart loses nothing.
type Reconciler struct {
	Store    SubscriptionStore
	Provider StatusProvider
	Sink     NotificationSink
	Interval time.Duration
}

// GoLiveMessage builds the notification body for a channel's rising edge.
// Role mention formatting is the sink's business.
func GoLiveMessage(channel string) string {
	return fmt.Sprintf("`%s` is now live! Watch here: https://twitch.tv/%s", channel, channel)
}

// Run executes reconcile passes until ctx is canceled. The first pass fires
// immediately so a restart doesn't wait a full interval; after that the
// ticker only fires again once the previous pass returned, so passes never
// overlap and never race on the same status row.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("reconcile loop starting", slog.Duration("interval", interval), slog.String("component", "tracker"))
	r.ReconcileOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile loop stopped", slog.String("component", "tracker"))
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs a single pass: load rows, query Twitch once per distinct
// channel name, apply the transition table per row, notify on rising edges,
// persist changed status. Every per-row failure is logged with its key and
// collected in the report; none escapes the pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) Report {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "tracker", "reconcile_pass")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "tracker"))

	start := time.Now()
	var rep Report

	rows, err := r.Store.ListWithSettings(ctx)
	if err != nil {
		log.Error("load tracked channels", slog.Any("err", err))
		telemetry.RecordError(span, err)
		rep.Failures = append(rep.Failures, RowError{Err: err})
		return rep
	}
	if telemetry.TrackedChannelsGauge != nil {
		telemetry.SetTrackedChannels(len(rows))
	}
	if len(rows) == 0 {
		r.finish(ctx, log, start, &rep)
		return rep
	}

	// One status lookup per distinct channel name, however many guilds track it.
	seen := make(map[string]struct{}, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.ChannelName]; !ok {
			seen[row.ChannelName] = struct{}{}
			names = append(names, row.ChannelName)
		}
	}
	statuses := r.Provider.LiveSet(ctx, names)

	for _, row := range rows {
		rep.Checked++
		st := statuses[row.ChannelName]
		if st.Err != nil {
			if telemetry.ProviderErrors != nil {
				telemetry.ProviderErrors.Inc()
			}
			log.Warn("status check failed; skipping row this pass",
				slog.Int64("guild_id", row.GuildID),
				slog.String("channel", row.ChannelName),
				slog.Any("err", st.Err))
			rep.Failures = append(rep.Failures, RowError{GuildID: row.GuildID, Channel: row.ChannelName, Err: st.Err})
			if row.Live {
				rep.Live++
			}
			continue
		}

		switch {
		case st.Live && !row.Live:
			rep.WentLive++
			rep.Live++
			r.announce(ctx, log, row, &rep)
			if err := r.Store.SetLiveStatus(ctx, row.GuildID, row.ChannelName, true); err != nil {
				log.Error("persist live status",
					slog.Int64("guild_id", row.GuildID),
					slog.String("channel", row.ChannelName),
					slog.Any("err", err))
				rep.Failures = append(rep.Failures, RowError{GuildID: row.GuildID, Channel: row.ChannelName, Err: err})
			}
		case !st.Live && row.Live:
			rep.WentOffline++
			if err := r.Store.SetLiveStatus(ctx, row.GuildID, row.ChannelName, false); err != nil {
				log.Error("persist offline status",
					slog.Int64("guild_id", row.GuildID),
					slog.String("channel", row.ChannelName),
					slog.Any("err", err))
				rep.Failures = append(rep.Failures, RowError{GuildID: row.GuildID, Channel: row.ChannelName, Err: err})
			}
		case st.Live:
			rep.Live++
		}
	}

	r.finish(ctx, log, start, &rep)
	return rep
}

// announce delivers one go-live notification when the guild has a destination
// configured. Delivery failure is logged and reported but the status is still
// persisted by the caller, so the episode is not re-announced next pass.
func (r *Reconciler) announce(ctx context.Context, log *slog.Logger, row TrackedRow, rep *Report) {
	if row.NotifyChannelID == nil {
		log.Debug("went live but guild has no notify channel configured",
			slog.Int64("guild_id", row.GuildID),
			slog.String("channel", row.ChannelName))
		return
	}
	var roleID int64
	if row.PingRoleID != nil {
		roleID = *row.PingRoleID
	}
	if err := r.Sink.Send(ctx, *row.NotifyChannelID, roleID, GoLiveMessage(row.ChannelName)); err != nil {
		if telemetry.NotificationsFailed != nil {
			telemetry.NotificationsFailed.Inc()
		}
		log.Warn("notification delivery failed",
			slog.Int64("guild_id", row.GuildID),
			slog.String("channel", row.ChannelName),
			slog.Any("err", err))
		rep.Failures = append(rep.Failures, RowError{GuildID: row.GuildID, Channel: row.ChannelName, Err: err})
		return
	}
	if telemetry.NotificationsSent != nil {
		telemetry.NotificationsSent.Inc()
	}
	log.Info("go-live notification sent",
		slog.Int64("guild_id", row.GuildID),
		slog.String("channel", row.ChannelName))
	rep.Notified++
}

func (r *Reconciler) finish(ctx context.Context, log *slog.Logger, start time.Time, rep *Report) {
	dur := time.Since(start)
	if telemetry.ReconcileCycles != nil {
		telemetry.ReconcileCycles.Inc()
		telemetry.ChannelsChecked.Add(float64(rep.Checked))
		telemetry.ReconcileDuration.Observe(dur.Seconds())
		telemetry.SetLiveChannels(rep.Live)
	}
	// Heartbeat + last-pass stats for /status; best effort.
	now := time.Now().UTC().Format(time.RFC3339)
	_ = r.Store.PutKV(ctx, "job_reconcile_last", now)
	_ = r.Store.PutKV(ctx, "reconcile_last_stats",
		fmt.Sprintf(`{"checked":%d,"went_live":%d,"went_offline":%d,"notified":%d,"failures":%d}`,
			rep.Checked, rep.WentLive, rep.WentOffline, rep.Notified, len(rep.Failures)))

	if rep.WentLive > 0 || rep.WentOffline > 0 || len(rep.Failures) > 0 {
		log.Info("reconcile pass complete",
			slog.Int("checked", rep.Checked),
			slog.Int("went_live", rep.WentLive),
			slog.Int("went_offline", rep.WentOffline),
			slog.Int("notified", rep.Notified),
			slog.Int("failures", len(rep.Failures)),
			slog.Duration("duration", dur))
	} else {
		log.Debug("reconcile pass complete",
			slog.Int("checked", rep.Checked),
			slog.Duration("duration", dur))
	}
}
