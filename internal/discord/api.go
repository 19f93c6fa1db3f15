package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Channel is the part of a guild channel the moderation code reads.
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	Text     bool
	Slowmode int
}

// MutedDeny is the permission set withheld from the muted role on every
// channel.
const MutedDeny = int64(discordgo.PermissionSendMessages | discordgo.PermissionVoiceSpeak)

type Role struct {
	ID   string
	Name string
}

// API is the set of platform calls the moderation pipeline makes. Every call
// is best effort: callers classify and log failures instead of propagating
// them.
type API interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	SendChannelMessage(ctx context.Context, channelID, content string) error

	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	CreateRole(ctx context.Context, guildID, name string) (Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	DenyRolePermissions(ctx context.Context, channelID, roleID string, deny int64) error
	EditChannelSlowmode(ctx context.Context, channelID string, seconds int, reason string) error

	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	IsBanned(ctx context.Context, guildID, userID string) (bool, error)
	BanMember(ctx context.Context, guildID, userID, reason string) error
	UnbanMember(ctx context.Context, guildID, userID string) error

	GuildIDs() []string
}

// Session adapts a discordgo session to API.
type Session struct {
	s *discordgo.Session
}

var _ API = (*Session)(nil)

func NewSession(s *discordgo.Session) *Session {
	return &Session{s: s}
}

func (d *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (d *Session) SendDirectMessage(ctx context.Context, userID, content string) error {
	channel, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = d.s.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
	return err
}

func (d *Session) SendChannelMessage(ctx context.Context, channelID, content string) error {
	_, err := d.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

func (d *Session) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		out = append(out, Role{ID: role.ID, Name: role.Name})
	}
	return out, nil
}

func (d *Session) CreateRole(ctx context.Context, guildID, name string) (Role, error) {
	role, err := d.s.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name}, discordgo.WithContext(ctx))
	if err != nil {
		return Role{}, err
	}
	return Role{ID: role.ID, Name: role.Name}, nil
}

func (d *Session) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *Session) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *Session) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	channels, err := d.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		out = append(out, Channel{
			ID:       channel.ID,
			GuildID:  channel.GuildID,
			Name:     channel.Name,
			Text:     channel.Type == discordgo.ChannelTypeGuildText || channel.Type == discordgo.ChannelTypeGuildNews,
			Slowmode: channel.RateLimitPerUser,
		})
	}
	return out, nil
}

func (d *Session) DenyRolePermissions(ctx context.Context, channelID, roleID string, deny int64) error {
	return d.s.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, 0, deny, discordgo.WithContext(ctx))
}

func (d *Session) EditChannelSlowmode(ctx context.Context, channelID string, seconds int, reason string) error {
	_, err := d.s.ChannelEditComplex(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &seconds},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return err
}

func (d *Session) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return d.s.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
}

func (d *Session) IsBanned(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := d.s.GuildBan(guildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if Classify(err) == KindNotFound {
		return false, nil
	}
	return false, err
}

func (d *Session) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return d.s.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (d *Session) UnbanMember(ctx context.Context, guildID, userID string) error {
	return d.s.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))
}

func (d *Session) GuildIDs() []string {
	if d.s.State == nil {
		return nil
	}
	d.s.State.RLock()
	defer d.s.State.RUnlock()
	ids := make([]string, 0, len(d.s.State.Guilds))
	for _, guild := range d.s.State.Guilds {
		if guild != nil {
			ids = append(ids, guild.ID)
		}
	}
	return ids
}
