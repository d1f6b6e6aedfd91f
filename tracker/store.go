package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced to the command layer as user-visible replies.
var (
	ErrAlreadyTracked = errors.New("channel already tracked")
	ErrNotTracked     = errors.New("channel not tracked")
)

// TrackedRow is one subscription joined with its guild's delivery settings.
// NotifyChannelID and PingRoleID are nil when the guild has not configured
// them yet; such rows are still polled but never produce a delivery.
type TrackedRow struct {
	GuildID         int64
	ChannelName     string
	Live            bool
	NotifyChannelID *int64
	PingRoleID      *int64
}

// Store is the Postgres-backed subscription registry. All operations are
// single-row atomic; no cross-row transactions are needed because the
// reconcile loop isolates failures per row anyway.
type Store struct {
	DB *sql.DB
}

// normalize lowercases a channel name; Twitch logins are case-insensitive and
// the pair (guild_id, channel_name) is the unique key.
func normalize(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

// Add starts tracking a channel for a guild. Returns ErrAlreadyTracked when
// the pair already exists.
func (s *Store) Add(ctx context.Context, guildID int64, channel string) error {
	name := normalize(channel)
	if name == "" {
		return fmt.Errorf("channel name empty")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tracked_channels (guild_id, channel_name) VALUES ($1, $2)`, guildID, name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%s in guild %d: %w", name, guildID, ErrAlreadyTracked)
		}
		return fmt.Errorf("add tracked channel: %w", err)
	}
	return nil
}

// Remove stops tracking a channel for a guild. Returns ErrNotTracked when the
// pair does not exist.
func (s *Store) Remove(ctx context.Context, guildID int64, channel string) error {
	name := normalize(channel)
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM tracked_channels WHERE guild_id=$1 AND channel_name=$2`, guildID, name)
	if err != nil {
		return fmt.Errorf("remove tracked channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove tracked channel: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s in guild %d: %w", name, guildID, ErrNotTracked)
	}
	return nil
}

// List returns the channel names tracked for a guild, sorted.
func (s *Store) List(ctx context.Context, guildID int64) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT channel_name FROM tracked_channels WHERE guild_id=$1 ORDER BY channel_name`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list tracked channels: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SetLiveStatus persists the live flag for one subscription.
func (s *Store) SetLiveStatus(ctx context.Context, guildID int64, channel string, live bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tracked_channels SET live_status=$3, updated_at=NOW() WHERE guild_id=$1 AND channel_name=$2`,
		guildID, normalize(channel), live)
	if err != nil {
		return fmt.Errorf("set live status: %w", err)
	}
	return nil
}

// SetNotifyChannel upserts the guild's notification destination, preserving a
// previously configured ping role.
func (s *Store) SetNotifyChannel(ctx context.Context, guildID, channelID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, notify_channel_id, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (guild_id) DO UPDATE SET notify_channel_id=EXCLUDED.notify_channel_id, updated_at=NOW()`,
		guildID, channelID)
	if err != nil {
		return fmt.Errorf("set notify channel: %w", err)
	}
	return nil
}

// SetPingRole upserts the guild's mention role, preserving a previously
// configured notification destination.
func (s *Store) SetPingRole(ctx context.Context, guildID, roleID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, ping_role_id, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (guild_id) DO UPDATE SET ping_role_id=EXCLUDED.ping_role_id, updated_at=NOW()`,
		guildID, roleID)
	if err != nil {
		return fmt.Errorf("set ping role: %w", err)
	}
	return nil
}

// ListWithSettings loads every subscription joined with its guild's settings.
// The join is a LEFT JOIN: guilds that never configured a destination still
// get their channels polled and status-updated.
func (s *Store) ListWithSettings(ctx context.Context) ([]TrackedRow, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT t.guild_id, t.channel_name, t.live_status, g.notify_channel_id, g.ping_role_id
		 FROM tracked_channels t
		 LEFT JOIN guild_settings g ON g.guild_id = t.guild_id
		 ORDER BY t.guild_id, t.channel_name`)
	if err != nil {
		return nil, fmt.Errorf("list tracked with settings: %w", err)
	}
	defer rows.Close()
	var out []TrackedRow
	for rows.Next() {
		var r TrackedRow
		var notify, role sql.NullInt64
		if err := rows.Scan(&r.GuildID, &r.ChannelName, &r.Live, &notify, &role); err != nil {
			return nil, err
		}
		if notify.Valid {
			r.NotifyChannelID = &notify.Int64
		}
		if role.Valid {
			r.PingRoleID = &role.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutKV upserts an operational key/value pair (job heartbeats, cycle stats).
func (s *Store) PutKV(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}
