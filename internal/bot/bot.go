package bot

import (
	"context"
	"time"

	"guildwarden/internal/analytics"
	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/discord"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/lockdown"
	"guildwarden/internal/settings"
	"guildwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Linker hands out account-linking URLs for the /link command.
type Linker interface {
	AuthURL(kind string) (string, error)
}

type Deps struct {
	Config     config.Config
	Logger     *zap.Logger
	Session    *discordgo.Session
	API        discord.API
	Settings   settings.Repository
	Moderation *moderation.Service
	Lockdown   *lockdown.Service
	Analytics  *analytics.Service
	Audit      *audit.Logger
	Store      storage.AuditStore
	Linker     Linker
	Clock      clock.Clock
}

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	session    *discordgo.Session
	api        discord.API
	settings   settings.Repository
	moderation *moderation.Service
	lockdown   *lockdown.Service
	analytics  *analytics.Service
	audit      *audit.Logger
	store      storage.AuditStore
	linker     Linker
	clock      clock.Clock
}

// NewSession builds the gateway session with the intents the moderation
// handlers need. It does not connect.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent
	return session, nil
}

func New(deps Deps) *Bot {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	b := &Bot{
		cfg:        deps.Config,
		logger:     deps.Logger,
		session:    deps.Session,
		api:        deps.API,
		settings:   deps.Settings,
		moderation: deps.Moderation,
		lockdown:   deps.Lockdown,
		analytics:  deps.Analytics,
		audit:      deps.Audit,
		store:      deps.Store,
		linker:     deps.Linker,
		clock:      deps.Clock,
	}
	if b.audit != nil {
		b.audit.SetNotifier(b.notifyAudit)
	}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(_ *discordgo.Session, event *discordgo.Ready) {
	if event.User == nil {
		return
	}
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Message == nil || msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	b.moderation.HandleMessage(context.Background(), moderation.Message{
		ID:        msg.ID,
		AuthorID:  msg.Author.ID,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	createdAt, err := discordgo.SnowflakeTimestamp(event.User.ID)
	if err != nil {
		b.logger.Warn("member id is not a snowflake", zap.String("user_id", event.User.ID), zap.Error(err))
		return
	}

	b.moderation.HandleJoin(context.Background(), moderation.Join{
		GuildID:          event.GuildID,
		MemberID:         event.User.ID,
		AccountCreatedAt: createdAt,
		Timestamp:        b.clock.Now(),
	})
}

// logChannel returns the guild's log channel, else the configured default.
func (b *Bot) logChannel(ctx context.Context, guildID string) string {
	if b.settings != nil {
		gs, err := b.settings.GetGuildSettings(ctx, guildID)
		if err != nil {
			b.logger.Warn("settings load failed", zap.String("guild_id", guildID), zap.Error(err))
		} else if gs.LogChannelID != "" {
			return gs.LogChannelID
		}
	}
	return b.cfg.DefaultLogChannel
}

// notifyAudit posts an audit line into the log channel. A failed post is
// logged, never audited.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.GuildID == "" || entry.Details == "" || b.api == nil {
		return
	}
	channelID := b.logChannel(ctx, entry.GuildID)
	if channelID == "" {
		return
	}
	if err := b.api.SendChannelMessage(ctx, channelID, entry.Details); err != nil {
		b.logger.Warn("audit notify failed",
			zap.String("guild_id", entry.GuildID),
			zap.String("channel_id", channelID),
			zap.String("kind", discord.Classify(err).String()),
			zap.Error(err),
		)
	}
}

// RunMaintenance prunes the audit trail and posts the daily report once per
// interval until ctx is done.
func (b *Bot) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.maintain(ctx)
		}
	}
}

func (b *Bot) maintain(ctx context.Context) {
	now := b.clock.Now()
	if b.store != nil && b.cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -b.cfg.RetentionDays)
		if err := b.store.CleanupAuditLogs(ctx, cutoff); err != nil {
			b.logger.Warn("audit cleanup failed", zap.Error(err))
		}
	}
	if b.analytics == nil || b.api == nil {
		return
	}
	for _, guildID := range b.api.GuildIDs() {
		b.postDailyReport(ctx, guildID, now)
	}
}

func (b *Bot) postDailyReport(ctx context.Context, guildID string, now time.Time) {
	channelID := b.logChannel(ctx, guildID)
	if channelID == "" {
		return
	}
	report, err := b.analytics.Report(ctx, guildID, now.Add(-24*time.Hour))
	if err != nil {
		b.logger.Warn("daily report failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if report.Total == 0 {
		return
	}
	if err := b.api.SendChannelMessage(ctx, channelID, "📊 Daily moderation report\n"+report.Summary()); err != nil {
		b.logger.Warn("daily report post failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

// deferResponse acknowledges a command whose work may outlast the
// interaction deadline; editResponse delivers the result.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) error {
	return session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) editResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("interaction edit failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}
