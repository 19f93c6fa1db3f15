package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guildwarden/internal/discord"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/lockdown"
	"guildwarden/internal/settings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorSuccess = 0x2ECC71
	colorError   = 0xE74C3C
	colorInfo    = 0x3498DB
)

// deferred commands may take longer than the interaction deadline.
var deferred = map[string]bool{
	"lockdown": true,
	"report":   true,
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	userID := interactionUser(interaction)

	if deferred[data.Name] {
		if err := b.deferResponse(session, interaction); err != nil {
			b.logger.Warn("interaction defer failed", zap.String("command", data.Name), zap.Error(err))
			return
		}
		b.editResponse(session, interaction, b.runCommand(ctx, interaction.GuildID, userID, data.Name, data.Options))
		return
	}
	b.respondEmbed(session, interaction, b.runCommand(ctx, interaction.GuildID, userID, data.Name, data.Options))
}

func interactionUser(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

// runCommand executes one slash command and returns the reply embed.
func (b *Bot) runCommand(ctx context.Context, guildID, userID, name string, raw []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.MessageEmbed {
	opts := parseOptions(raw)
	if name == "link" {
		return b.cmdLink(ctx, userID, opts)
	}
	if guildID == "" {
		return failure("GuildWarden", "This command only works inside a server.")
	}

	switch name {
	case "autoslow":
		return b.cmdToggle(ctx, guildID, userID, "Auto-slowmode", opts.str("action"), autoslowFlag)
	case "autoslow_blacklist":
		return b.cmdBlacklist(ctx, guildID, userID, opts)
	case "slowmode_thresholds":
		return b.cmdThresholds(ctx, guildID, userID, opts)
	case "check_frequency":
		return b.cmdCheckFrequency(ctx, guildID, userID, opts)
	case "moderation":
		return b.cmdToggle(ctx, guildID, userID, "Moderation", opts.str("action"), moderationFlag)
	case "badword":
		return b.cmdWordList(ctx, guildID, userID, opts, badWordList)
	case "bannedlink":
		return b.cmdWordList(ctx, guildID, userID, opts, bannedLinkList)
	case "antiraid":
		return b.cmdToggle(ctx, guildID, userID, "Anti-raid", opts.str("action"), antiraidFlag)
	case "lockdown":
		return b.cmdLockdown(ctx, guildID, userID, opts)
	case "logchannel":
		return b.cmdLogChannel(ctx, guildID, userID, opts)
	case "unban":
		return b.cmdUnban(ctx, guildID, userID, opts)
	case "report":
		return b.cmdReport(ctx, guildID, opts)
	case "status":
		return b.cmdStatus(ctx, guildID)
	}
	return failure("GuildWarden", "Unknown command.")
}

// flag describes an on/off guild setting and the lines the toggle command
// answers with.
type flag struct {
	command  string
	field    func(*settings.GuildSettings) *bool
	enabled  string
	disabled string
	details  func(settings.GuildSettings) []*discordgo.MessageEmbedField
}

var autoslowFlag = flag{
	command:  "autoslow",
	field:    func(s *settings.GuildSettings) *bool { return &s.AutoslowEnabled },
	enabled:  "✅ Auto-slowmode enabled.",
	disabled: "❌ Auto-slowmode disabled.",
	details: func(s settings.GuildSettings) []*discordgo.MessageEmbedField {
		return []*discordgo.MessageEmbedField{
			field("Check frequency", fmt.Sprintf("%ds", s.CheckFrequencySeconds)),
			field("Thresholds", s.TimeConfigs.String()),
			field("Blacklisted", channelList(s.BlacklistedChannels)),
		}
	},
}

var moderationFlag = flag{
	command:  "moderation",
	field:    func(s *settings.GuildSettings) *bool { return &s.ModerationEnabled },
	enabled:  "✅ Moderation enabled.",
	disabled: "❌ Moderation disabled.",
	details: func(s settings.GuildSettings) []*discordgo.MessageEmbedField {
		return []*discordgo.MessageEmbedField{
			field("Caps threshold", fmt.Sprintf("%.0f%%", s.CapsThreshold*100)),
			field("Spam", fmt.Sprintf("%d messages / %ds", s.SpamThreshold, s.SpamWindowSeconds)),
			field("Bad words", strconv.Itoa(len(s.BadWords))),
			field("Banned links", strconv.Itoa(len(s.BannedLinks))),
		}
	},
}

var antiraidFlag = flag{
	command:  "antiraid",
	field:    func(s *settings.GuildSettings) *bool { return &s.AntiraidEnabled },
	enabled:  "✅ Anti-raid mode enabled. New joins will be auto-timed out.",
	disabled: "❌ Anti-raid mode disabled.",
	details: func(s settings.GuildSettings) []*discordgo.MessageEmbedField {
		return []*discordgo.MessageEmbedField{
			field("Join burst", fmt.Sprintf("%d joins / %ds", s.JoinThreshold, s.JoinWindowSeconds)),
			field("Minimum account age", fmt.Sprintf("%dd", s.MinAccountAgeDays)),
		}
	},
}

func (b *Bot) cmdToggle(ctx context.Context, guildID, userID, title, action string, f flag) *discordgo.MessageEmbed {
	switch action {
	case "enable", "disable":
		on := action == "enable"
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			*f.field(s) = on
			return true
		}); err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		msg := f.disabled
		if on {
			msg = f.enabled
		}
		b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("%s set by <@%s>: %s", title, userID, msg))
		return success(title, msg)
	case "status":
		gs, err := b.settings.GetGuildSettings(ctx, guildID)
		if err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		on := *f.field(&gs)
		return info(title, fmt.Sprintf("ℹ️ %s is currently %s.", title, enabledLabel(on)), f.details(gs)...)
	}
	return failure(title, fmt.Sprintf("Usage: /%s enable|disable|status", f.command))
}

func (b *Bot) cmdBlacklist(ctx context.Context, guildID, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Auto-slowmode blacklist"
	const usage = "Usage: /autoslow_blacklist add|remove|list #channel"
	channelID := opts.str("channel")

	switch opts.str("action") {
	case "add":
		if channelID == "" {
			return failure(title, usage)
		}
		added := false
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			s.BlacklistedChannels, added = settings.AddChannel(s.BlacklistedChannels, channelID)
			return added
		}); err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		if !added {
			return info(title, fmt.Sprintf("<#%s> is already blacklisted.", channelID))
		}
		b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("<@%s> blacklisted <#%s> from auto-slowmode.", userID, channelID))
		return success(title, fmt.Sprintf("✅ Added <#%s> to auto-slowmode blacklist.", channelID))
	case "remove":
		if channelID == "" {
			return failure(title, usage)
		}
		removed := false
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			s.BlacklistedChannels, removed = settings.RemoveChannel(s.BlacklistedChannels, channelID)
			return removed
		}); err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		if !removed {
			return info(title, fmt.Sprintf("<#%s> is not blacklisted.", channelID))
		}
		b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("<@%s> removed <#%s> from the auto-slowmode blacklist.", userID, channelID))
		return success(title, fmt.Sprintf("❌ Removed <#%s> from auto-slowmode blacklist.", channelID))
	case "list":
		gs, err := b.settings.GetGuildSettings(ctx, guildID)
		if err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		if len(gs.BlacklistedChannels) == 0 {
			return info(title, "Blacklist is empty.")
		}
		return info(title, "Blacklisted: "+channelList(gs.BlacklistedChannels))
	}
	return failure(title, usage)
}

func (b *Bot) cmdThresholds(ctx context.Context, guildID, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Slowmode thresholds"
	configs, err := settings.ParseTimeConfigs(opts.str("thresholds"))
	if err != nil {
		return failure(title, fmt.Sprintf("Error parsing thresholds: %v", err))
	}
	if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
		s.TimeConfigs = configs
		return true
	}); err != nil {
		return b.settingsFailure(title, guildID, err)
	}
	b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("<@%s> set slowmode thresholds to %s.", userID, configs))
	return success(title, "✅ Thresholds updated: "+configs.String())
}

func (b *Bot) cmdCheckFrequency(ctx context.Context, guildID, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Check frequency"
	seconds, ok := opts.integer("seconds")
	if !ok || seconds < 1 {
		return failure(title, "⚠️ Frequency must be a whole number of seconds, at least 1.")
	}
	if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
		s.CheckFrequencySeconds = seconds
		return true
	}); err != nil {
		return b.settingsFailure(title, guildID, err)
	}
	b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("<@%s> set the slowmode check frequency to %ds.", userID, seconds))
	return success(title, fmt.Sprintf("✅ Slowmode check frequency set to %ds.", seconds))
}

// wordList is a lower-cased string list in the guild settings.
type wordList struct {
	title   string
	command string
	noun    string
	field   func(*settings.GuildSettings) *[]string
}

var badWordList = wordList{
	title:   "Bad words",
	command: "badword",
	noun:    "bad word",
	field:   func(s *settings.GuildSettings) *[]string { return &s.BadWords },
}

var bannedLinkList = wordList{
	title:   "Banned links",
	command: "bannedlink",
	noun:    "banned link",
	field:   func(s *settings.GuildSettings) *[]string { return &s.BannedLinks },
}

func (b *Bot) cmdWordList(ctx context.Context, guildID, userID string, opts options, list wordList) *discordgo.MessageEmbed {
	usage := fmt.Sprintf("Usage: /%s add|remove|list value", list.command)
	value := strings.ToLower(opts.str("value"))

	switch opts.str("action") {
	case "add":
		if value == "" {
			return failure(list.title, usage)
		}
		added := false
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			*list.field(s), added = settings.AddWord(*list.field(s), value)
			return added
		}); err != nil {
			return b.settingsFailure(list.title, guildID, err)
		}
		if !added {
			return info(list.title, fmt.Sprintf("`%s` is already on the %s list.", value, list.noun))
		}
		b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("<@%s> added a %s.", userID, list.noun))
		return success(list.title, fmt.Sprintf("✅ Added `%s` to the %s list.", value, list.noun))
	case "remove":
		if value == "" {
			return failure(list.title, usage)
		}
		removed := false
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			*list.field(s), removed = settings.RemoveWord(*list.field(s), value)
			return removed
		}); err != nil {
			return b.settingsFailure(list.title, guildID, err)
		}
		if !removed {
			return info(list.title, fmt.Sprintf("`%s` is not on the %s list.", value, list.noun))
		}
		b.auditAdmin(ctx, guildID, userID, fmt.Sprintf("<@%s> removed a %s.", userID, list.noun))
		return success(list.title, fmt.Sprintf("❌ Removed `%s` from the %s list.", value, list.noun))
	case "list":
		gs, err := b.settings.GetGuildSettings(ctx, guildID)
		if err != nil {
			return b.settingsFailure(list.title, guildID, err)
		}
		values := *list.field(&gs)
		if len(values) == 0 {
			return info(list.title, fmt.Sprintf("The %s list is empty.", list.noun))
		}
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = "`" + v + "`"
		}
		return info(list.title, strings.Join(quoted, ", "))
	}
	return failure(list.title, usage)
}

func (b *Bot) cmdLockdown(ctx context.Context, guildID, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Lockdown"
	level := strings.ToLower(opts.str("level"))
	delay, ok := lockdown.Levels[level]
	if !ok {
		return failure(title, "Usage: /lockdown 1|2|3|off")
	}
	if b.lockdown == nil {
		return failure(title, "Lockdown is not available.")
	}

	result, err := b.lockdown.Apply(ctx, guildID, delay, lockdown.LevelReason(level))
	if err != nil {
		b.logger.Warn("lockdown failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return failure(title, "⚠️ Could not read the server channels.")
	}
	heading := "🔒 Lockdown applied"
	if delay == 0 {
		heading = "🔓 Lockdown lifted"
	}
	return success(heading, lockdown.LevelReason(level),
		field("Changed", strconv.Itoa(result.Changed)),
		field("Unchanged", strconv.Itoa(result.Unchanged)),
		field("Failed", strconv.Itoa(result.Failed)),
	)
}

func (b *Bot) cmdLogChannel(ctx context.Context, guildID, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Log channel"
	switch opts.str("action") {
	case "set":
		channelID := opts.str("channel")
		if channelID == "" {
			return failure(title, "Usage: /logchannel set #channel")
		}
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			s.LogChannelID = channelID
			return true
		}); err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		return success(title, fmt.Sprintf("✅ Log channel set to <#%s>.", channelID))
	case "get":
		gs, err := b.settings.GetGuildSettings(ctx, guildID)
		if err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		if gs.LogChannelID != "" {
			return info(title, fmt.Sprintf("📌 Current log channel is <#%s>.", gs.LogChannelID))
		}
		if b.cfg.DefaultLogChannel != "" {
			return info(title, fmt.Sprintf("📌 Using the default log channel <#%s>.", b.cfg.DefaultLogChannel))
		}
		return info(title, "⚠️ No log channel configured.")
	case "reset":
		if _, err := b.updateSettings(ctx, guildID, func(s *settings.GuildSettings) bool {
			s.LogChannelID = ""
			return true
		}); err != nil {
			return b.settingsFailure(title, guildID, err)
		}
		return success(title, "✅ Log channel has been reset.")
	}
	return failure(title, "Usage: /logchannel set|get|reset #channel")
}

func (b *Bot) cmdUnban(ctx context.Context, guildID, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Unban"
	target := strings.Trim(opts.str("user_id"), "<@!>")
	if _, err := strconv.ParseUint(target, 10, 64); err != nil {
		return failure(title, "⚠️ Provide the numeric ID of the banned user.")
	}

	err := b.api.UnbanMember(ctx, guildID, target)
	if err == nil {
		if b.audit != nil {
			b.audit.Log(ctx, audit.LevelInfo, guildID, target, "unban", fmt.Sprintf("✅ <@%s> unbanned by <@%s>.", target, userID))
		}
		return success(title, fmt.Sprintf("✅ Unbanned <@%s>.", target))
	}
	switch discord.Classify(err) {
	case discord.KindNotFound:
		return failure(title, "⚠️ That user was not found in the ban list.")
	case discord.KindPermissionDenied:
		return failure(title, "⚠️ I don't have permission to unban.")
	}
	b.logger.Warn("unban failed", zap.String("guild_id", guildID), zap.String("user_id", target), zap.Error(err))
	return failure(title, "⚠️ Unban failed. Try again later.")
}

func (b *Bot) cmdReport(ctx context.Context, guildID string, opts options) *discordgo.MessageEmbed {
	var (
		window time.Duration
		label  string
	)
	switch opts.str("period") {
	case "", "day":
		window, label = 24*time.Hour, "last 24h"
	case "week":
		window, label = 7*24*time.Hour, "last 7 days"
	default:
		return failure("Report", "Usage: /report day|week")
	}
	if b.analytics == nil {
		return failure("Report", "Reporting is not available.")
	}

	report, err := b.analytics.Report(ctx, guildID, b.clock.Now().Add(-window))
	if err != nil {
		b.logger.Warn("report failed", zap.String("guild_id", guildID), zap.Error(err))
		return failure("Report", "⚠️ Could not read the audit trail.")
	}
	return info(fmt.Sprintf("📊 Moderation report (%s)", label), report.Summary())
}

func (b *Bot) cmdStatus(ctx context.Context, guildID string) *discordgo.MessageEmbed {
	gs, err := b.settings.GetGuildSettings(ctx, guildID)
	if err != nil {
		return b.settingsFailure("Status", guildID, err)
	}
	lock := "off"
	if b.lockdown != nil {
		if state := b.lockdown.State(guildID); state.Active {
			lock = fmt.Sprintf("%ds slowmode", state.Delay)
		}
	}
	logChannel := "not set"
	if channelID := b.logChannel(ctx, guildID); channelID != "" {
		logChannel = "<#" + channelID + ">"
	}
	return info("GuildWarden status", "",
		field("Auto-slowmode", enabledLabel(gs.AutoslowEnabled)),
		field("Moderation", enabledLabel(gs.ModerationEnabled)),
		field("Anti-raid", enabledLabel(gs.AntiraidEnabled)),
		field("Lockdown", lock),
		field("Log channel", logChannel),
	)
}

func (b *Bot) cmdLink(ctx context.Context, userID string, opts options) *discordgo.MessageEmbed {
	const title = "Account linking"
	kind := opts.str("platform")
	label := "Twitch"
	if kind == "youtube" {
		label = "YouTube"
	}
	if b.linker == nil {
		return failure(title, "Account linking is not configured.")
	}
	url, err := b.linker.AuthURL(kind)
	if err != nil {
		b.logger.Debug("link url unavailable", zap.String("kind", kind), zap.Error(err))
		return failure(title, "Account linking is not configured.")
	}

	line := fmt.Sprintf("🔗 Link your %s account: %s", label, url)
	if err := b.api.SendDirectMessage(ctx, userID, line); err != nil {
		b.logger.Debug("link dm failed", zap.String("user_id", userID), zap.Error(err))
		return info(title, line)
	}
	return success(title, "📬 Check your DMs for the link.")
}

// updateSettings loads the guild settings, applies mutate and saves the
// result when mutate reports a change.
func (b *Bot) updateSettings(ctx context.Context, guildID string, mutate func(*settings.GuildSettings) bool) (settings.GuildSettings, error) {
	gs, err := b.settings.GetGuildSettings(ctx, guildID)
	if err != nil {
		return settings.GuildSettings{}, err
	}
	gs = gs.Clone()
	if !mutate(&gs) {
		return gs, nil
	}
	if err := b.settings.SaveGuildSettings(ctx, guildID, gs); err != nil {
		return settings.GuildSettings{}, err
	}
	return gs, nil
}

func (b *Bot) settingsFailure(title, guildID string, err error) *discordgo.MessageEmbed {
	b.logger.Error("settings update failed", zap.String("guild_id", guildID), zap.Error(err))
	return failure(title, "⚠️ Could not update the server settings. Try again later.")
}

func (b *Bot) auditAdmin(ctx context.Context, guildID, userID, details string) {
	if b.audit != nil {
		b.audit.Log(ctx, audit.LevelInfo, guildID, userID, "admin_command", "⚙️ "+details)
	}
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func parseOptions(raw []*discordgo.ApplicationCommandInteractionDataOption) options {
	out := make(options, len(raw))
	for _, opt := range raw {
		if opt != nil {
			out[opt.Name] = opt
		}
	}
	return out
}

// str returns the option as text. Channel and user options carry their ID.
func (o options) str(name string) string {
	opt, ok := o[name]
	if !ok || opt.Value == nil {
		return ""
	}
	if s, ok := opt.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(opt.Value)
}

// integer accepts the float64 the gateway decodes numbers into.
func (o options) integer(name string) (int, bool) {
	opt, ok := o[name]
	if !ok || opt.Value == nil {
		return 0, false
	}
	switch v := opt.Value.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
	}
}

func success(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return commandEmbed(title, description, colorSuccess, fields)
}

func failure(title, description string) *discordgo.MessageEmbed {
	return commandEmbed(title, description, colorError, nil)
}

func info(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return commandEmbed(title, description, colorInfo, fields)
}

func field(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func channelList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	mentions := make([]string, len(ids))
	for i, id := range ids {
		mentions[i] = "<#" + id + ">"
	}
	return strings.Join(mentions, ", ")
}
