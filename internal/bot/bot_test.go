package bot

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"guildwarden/internal/analytics"
	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/discord"
	"guildwarden/internal/discord/discordtest"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/lockdown"
	"guildwarden/internal/modules/punish"
	"guildwarden/internal/modules/slowmode"
	"guildwarden/internal/settings"
	"guildwarden/internal/storage"
	"guildwarden/internal/storage/sqlite"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type fakeLinker struct {
	url   string
	err   error
	kinds []string
}

func (f *fakeLinker) AuthURL(kind string) (string, error) {
	f.kinds = append(f.kinds, kind)
	return f.url, f.err
}

type harness struct {
	bot    *Bot
	api    *discordtest.Fake
	clock  *clock.Fake
	store  *sqlite.Store
	repo   settings.Repository
	audit  *audit.Logger
	linker *fakeLinker
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	api := discordtest.New()
	api.AddGuild("g1",
		discord.Channel{ID: "c1", Text: true},
		discord.Channel{ID: "c2", Text: true},
	)
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	logger := zap.NewNop()
	repo := settings.NewCached(storage.NewSettingsRepository(store, settings.Defaults(), logger), 16, time.Minute)
	auditLogger := audit.NewLogger(store, logger, clk)

	slow := slowmode.New(api, repo, auditLogger, logger, clk, slowmode.DefaultSpacing)
	slow.SetRunner(func(f func()) { f() })
	slow.Flush(context.Background())
	lock := lockdown.New(api, auditLogger, logger, clk, rate.NewLimiter(rate.Inf, 1), 0)

	mod := moderation.New(moderation.Deps{
		Settings: repo,
		Punisher: punish.New(api, auditLogger, logger, clk),
		Slowmode: slow,
		Lockdown: lock,
		Audit:    auditLogger,
		Logger:   logger,
		Clock:    clk,
	})
	linker := &fakeLinker{url: "https://discord.test/authorize?state=twitch:abc"}

	b := New(Deps{
		Config:     cfg,
		Logger:     logger,
		API:        api,
		Settings:   repo,
		Moderation: mod,
		Lockdown:   lock,
		Analytics:  analytics.New(store),
		Audit:      auditLogger,
		Store:      store,
		Linker:     linker,
		Clock:      clk,
	})
	return &harness{bot: b, api: api, clock: clk, store: store, repo: repo, audit: auditLogger, linker: linker}
}

func (h *harness) run(t *testing.T, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.MessageEmbed {
	t.Helper()
	embed := h.bot.runCommand(context.Background(), "g1", "mod1", name, opts)
	if embed == nil {
		t.Fatalf("%s returned no embed", name)
	}
	return embed
}

func (h *harness) settings(t *testing.T) settings.GuildSettings {
	t.Helper()
	gs, err := h.repo.GetGuildSettings(context.Background(), "g1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	return gs
}

func strOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value}
}

func channelOpt(id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: id}
}

func fieldValue(embed *discordgo.MessageEmbed, name string) string {
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestAutoslowToggleAndStatus(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.run(t, "autoslow", strOpt("action", "disable"))
	if embed.Description != "❌ Auto-slowmode disabled." || embed.Color != colorSuccess {
		t.Fatalf("unexpected reply %+v", embed)
	}
	if h.settings(t).AutoslowEnabled {
		t.Fatalf("expected autoslow disabled")
	}

	embed = h.run(t, "autoslow", strOpt("action", "status"))
	if embed.Description != "ℹ️ Auto-slowmode is currently disabled." {
		t.Fatalf("unexpected status %q", embed.Description)
	}
	if got := fieldValue(embed, "Thresholds"); got != "50:30,20:15,10:5,0:0" {
		t.Fatalf("unexpected thresholds field %q", got)
	}

	embed = h.run(t, "autoslow", strOpt("action", "bogus"))
	if embed.Color != colorError || embed.Description != "Usage: /autoslow enable|disable|status" {
		t.Fatalf("unexpected usage reply %+v", embed)
	}
}

func TestAntiraidToggle(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.run(t, "antiraid", strOpt("action", "enable"))
	if embed.Description != "✅ Anti-raid mode enabled. New joins will be auto-timed out." {
		t.Fatalf("unexpected reply %q", embed.Description)
	}
	if !h.settings(t).AntiraidEnabled {
		t.Fatalf("expected antiraid enabled")
	}
}

func TestBlacklistCommands(t *testing.T) {
	h := newHarness(t, config.Config{})

	if embed := h.run(t, "autoslow_blacklist", strOpt("action", "add"), channelOpt("c1")); embed.Description != "✅ Added <#c1> to auto-slowmode blacklist." {
		t.Fatalf("unexpected add reply %q", embed.Description)
	}
	if embed := h.run(t, "autoslow_blacklist", strOpt("action", "add"), channelOpt("c1")); embed.Description != "<#c1> is already blacklisted." {
		t.Fatalf("unexpected duplicate reply %q", embed.Description)
	}
	if embed := h.run(t, "autoslow_blacklist", strOpt("action", "list")); embed.Description != "Blacklisted: <#c1>" {
		t.Fatalf("unexpected list reply %q", embed.Description)
	}
	if !h.settings(t).IsBlacklisted("c1") {
		t.Fatalf("expected c1 blacklisted")
	}

	if embed := h.run(t, "autoslow_blacklist", strOpt("action", "remove"), channelOpt("c1")); embed.Description != "❌ Removed <#c1> from auto-slowmode blacklist." {
		t.Fatalf("unexpected remove reply %q", embed.Description)
	}
	if embed := h.run(t, "autoslow_blacklist", strOpt("action", "list")); embed.Description != "Blacklist is empty." {
		t.Fatalf("unexpected empty list reply %q", embed.Description)
	}
	if embed := h.run(t, "autoslow_blacklist", strOpt("action", "add")); embed.Color != colorError {
		t.Fatalf("expected usage error without a channel, got %+v", embed)
	}
}

func TestThresholdsCommand(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.run(t, "slowmode_thresholds", strOpt("thresholds", "abc"))
	if embed.Color != colorError || !strings.HasPrefix(embed.Description, "Error parsing thresholds:") {
		t.Fatalf("unexpected parse error reply %+v", embed)
	}
	if got := h.settings(t).TimeConfigs.String(); got != "50:30,20:15,10:5,0:0" {
		t.Fatalf("thresholds changed after a parse error: %s", got)
	}

	embed = h.run(t, "slowmode_thresholds", strOpt("thresholds", "0:0, 30:10"))
	if embed.Description != "✅ Thresholds updated: 30:10,0:0" {
		t.Fatalf("unexpected reply %q", embed.Description)
	}
	if got := h.settings(t).TimeConfigs.DelayFor(31); got != 10 {
		t.Fatalf("expected 10s for 31 messages, got %d", got)
	}
}

func TestCheckFrequencyAcceptsGatewayNumbers(t *testing.T) {
	h := newHarness(t, config.Config{})
	seconds := func(v any) *discordgo.ApplicationCommandInteractionDataOption {
		return &discordgo.ApplicationCommandInteractionDataOption{Name: "seconds", Type: discordgo.ApplicationCommandOptionInteger, Value: v}
	}

	if embed := h.run(t, "check_frequency", seconds(float64(45))); embed.Description != "✅ Slowmode check frequency set to 45s." {
		t.Fatalf("unexpected reply %q", embed.Description)
	}
	if got := h.settings(t).CheckFrequencySeconds; got != 45 {
		t.Fatalf("expected 45, got %d", got)
	}
	for _, bad := range []any{float64(0), float64(2.5), "soon"} {
		if embed := h.run(t, "check_frequency", seconds(bad)); embed.Color != colorError {
			t.Fatalf("expected %v to be rejected", bad)
		}
	}
	if got := h.settings(t).CheckFrequencySeconds; got != 45 {
		t.Fatalf("rejected values changed the frequency to %d", got)
	}
}

func TestBadWordCommandFeedsTheFilter(t *testing.T) {
	h := newHarness(t, config.Config{})

	if embed := h.run(t, "badword", strOpt("action", "add"), strOpt("value", "Spoiler")); embed.Description != "✅ Added `spoiler` to the bad word list." {
		t.Fatalf("unexpected add reply %q", embed.Description)
	}
	if embed := h.run(t, "badword", strOpt("action", "add"), strOpt("value", "spoiler")); embed.Description != "`spoiler` is already on the bad word list." {
		t.Fatalf("unexpected duplicate reply %q", embed.Description)
	}

	h.bot.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "no spoiler please",
		Author:    &discordgo.User{ID: "u1"},
		Timestamp: h.clock.Now(),
	}})
	if deletes := h.api.CallsTo("DeleteMessage"); len(deletes) != 1 {
		t.Fatalf("expected the message deleted, got %v", deletes)
	}

	if embed := h.run(t, "badword", strOpt("action", "remove"), strOpt("value", "SPOILER")); embed.Description != "❌ Removed `spoiler` from the bad word list." {
		t.Fatalf("unexpected remove reply %q", embed.Description)
	}
}

func TestBannedLinkList(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.run(t, "bannedlink", strOpt("action", "list"))
	if embed.Description != "`discord.gg`, `bit.ly`" {
		t.Fatalf("unexpected list %q", embed.Description)
	}
	h.run(t, "bannedlink", strOpt("action", "remove"), strOpt("value", "discord.gg"))
	h.run(t, "bannedlink", strOpt("action", "remove"), strOpt("value", "bit.ly"))
	if embed := h.run(t, "bannedlink", strOpt("action", "list")); embed.Description != "The banned link list is empty." {
		t.Fatalf("unexpected empty list %q", embed.Description)
	}
}

func TestLockdownCommand(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.run(t, "lockdown", strOpt("level", "2"))
	if embed.Title != "🔒 Lockdown applied" || embed.Description != "Lockdown level 2 (30s slowmode)" {
		t.Fatalf("unexpected reply %+v", embed)
	}
	if got := fieldValue(embed, "Changed"); got != "2" {
		t.Fatalf("expected 2 channels changed, got %q", got)
	}
	for _, id := range []string{"c1", "c2"} {
		if delay, _ := h.api.Slowmode(id); delay != 30 {
			t.Fatalf("expected %s at 30s, got %d", id, delay)
		}
	}
	if got := fieldValue(h.run(t, "status"), "Lockdown"); got != "30s slowmode" {
		t.Fatalf("unexpected status lockdown field %q", got)
	}

	embed = h.run(t, "lockdown", strOpt("level", "off"))
	if embed.Title != "🔓 Lockdown lifted" {
		t.Fatalf("unexpected lift reply %+v", embed)
	}
	if delay, _ := h.api.Slowmode("c1"); delay != 0 {
		t.Fatalf("expected c1 cleared, got %d", delay)
	}

	if embed := h.run(t, "lockdown", strOpt("level", "9")); embed.Description != "Usage: /lockdown 1|2|3|off" {
		t.Fatalf("unexpected reply for unknown level %q", embed.Description)
	}
}

func TestLockdownReportsChannelListFailure(t *testing.T) {
	h := newHarness(t, config.Config{})
	h.api.Fail("GuildChannels", "g1", discordtest.RESTError(http.StatusForbidden))

	embed := h.run(t, "lockdown", strOpt("level", "1"))
	if embed.Color != colorError {
		t.Fatalf("expected a failure embed, got %+v", embed)
	}
}

func TestUnbanOutcomes(t *testing.T) {
	h := newHarness(t, config.Config{})
	h.api.SetBanned("g1", "123")

	if embed := h.run(t, "unban", strOpt("user_id", "<@123>")); embed.Description != "✅ Unbanned <@123>." {
		t.Fatalf("unexpected reply %q", embed.Description)
	}
	if embed := h.run(t, "unban", strOpt("user_id", "123")); embed.Description != "⚠️ That user was not found in the ban list." {
		t.Fatalf("unexpected not found reply %q", embed.Description)
	}
	if embed := h.run(t, "unban", strOpt("user_id", "abc")); embed.Color != colorError || len(h.api.CallsTo("UnbanMember")) != 2 {
		t.Fatalf("expected a non-numeric id rejected before any call")
	}

	h.api.Fail("UnbanMember", "g1", discordtest.RESTError(http.StatusForbidden))
	if embed := h.run(t, "unban", strOpt("user_id", "456")); embed.Description != "⚠️ I don't have permission to unban." {
		t.Fatalf("unexpected forbidden reply %q", embed.Description)
	}

	logs, err := h.store.ListAuditLogs(context.Background(), "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	unbans := 0
	for _, log := range logs {
		if log.Event == "unban" {
			unbans++
		}
	}
	if unbans != 1 {
		t.Fatalf("expected one unban audited, got %d", unbans)
	}
}

func TestLogChannelCommands(t *testing.T) {
	h := newHarness(t, config.Config{DefaultLogChannel: "default"})

	if embed := h.run(t, "logchannel", strOpt("action", "get")); embed.Description != "📌 Using the default log channel <#default>." {
		t.Fatalf("unexpected get reply %q", embed.Description)
	}
	h.run(t, "logchannel", strOpt("action", "set"), channelOpt("logs"))
	if embed := h.run(t, "logchannel", strOpt("action", "get")); embed.Description != "📌 Current log channel is <#logs>." {
		t.Fatalf("unexpected get reply %q", embed.Description)
	}
	if embed := h.run(t, "logchannel", strOpt("action", "reset")); embed.Description != "✅ Log channel has been reset." {
		t.Fatalf("unexpected reset reply %q", embed.Description)
	}
	if got := h.settings(t).LogChannelID; got != "" {
		t.Fatalf("expected log channel cleared, got %q", got)
	}
}

func TestAuditLinesGoToGuildChannelElseDefault(t *testing.T) {
	h := newHarness(t, config.Config{DefaultLogChannel: "default"})
	ctx := context.Background()

	h.audit.Log(ctx, audit.LevelInfo, "g1", "u1", "warn", "first")
	h.run(t, "logchannel", strOpt("action", "set"), channelOpt("logs"))
	h.audit.Log(ctx, audit.LevelInfo, "g1", "u1", "warn", "second")
	h.audit.Log(ctx, audit.LevelInfo, "", "u1", "warn", "no guild")

	sends := h.api.CallsTo("SendChannelMessage")
	if len(sends) != 2 {
		t.Fatalf("expected two posts, got %v", sends)
	}
	if sends[0].Args[0] != "default" || sends[0].Args[1] != "first" {
		t.Fatalf("unexpected first post %v", sends[0])
	}
	if sends[1].Args[0] != "logs" || sends[1].Args[1] != "second" {
		t.Fatalf("unexpected second post %v", sends[1])
	}
}

func TestAuditNotifyFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t, config.Config{DefaultLogChannel: "default"})
	h.api.Fail("SendChannelMessage", "", errors.New("gateway down"))

	h.audit.Log(context.Background(), audit.LevelWarn, "g1", "u1", "warn", "line")

	logs, err := h.store.ListAuditLogs(context.Background(), "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected only the audited entry, got %d", len(logs))
	}
}

func TestCommandsOutsideGuild(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.bot.runCommand(context.Background(), "", "u1", "status", nil)
	if embed.Description != "This command only works inside a server." {
		t.Fatalf("unexpected reply %q", embed.Description)
	}
}

func TestLinkCommand(t *testing.T) {
	h := newHarness(t, config.Config{})

	embed := h.bot.runCommand(context.Background(), "", "u1", "link", []*discordgo.ApplicationCommandInteractionDataOption{strOpt("platform", "twitch")})
	if embed.Description != "📬 Check your DMs for the link." {
		t.Fatalf("unexpected reply %q", embed.Description)
	}
	dms := h.api.CallsTo("SendDirectMessage")
	if len(dms) != 1 || dms[0].Args[0] != "u1" || dms[0].Args[1] != "🔗 Link your Twitch account: https://discord.test/authorize?state=twitch:abc" {
		t.Fatalf("unexpected dm %v", dms)
	}
	if len(h.linker.kinds) != 1 || h.linker.kinds[0] != "twitch" {
		t.Fatalf("unexpected link kinds %v", h.linker.kinds)
	}

	h.api.Fail("SendDirectMessage", "u2", discordtest.RESTError(http.StatusForbidden))
	embed = h.bot.runCommand(context.Background(), "g1", "u2", "link", []*discordgo.ApplicationCommandInteractionDataOption{strOpt("platform", "youtube")})
	if !strings.Contains(embed.Description, "Link your YouTube account: https://") {
		t.Fatalf("expected the link inline when DMs fail, got %q", embed.Description)
	}

	h.linker.err = errors.New("oauth not configured")
	embed = h.bot.runCommand(context.Background(), "g1", "u1", "link", []*discordgo.ApplicationCommandInteractionDataOption{strOpt("platform", "twitch")})
	if embed.Description != "Account linking is not configured." {
		t.Fatalf("unexpected disabled reply %q", embed.Description)
	}
}

func TestMessageHandlerSkipsBotsAndDirectMessages(t *testing.T) {
	h := newHarness(t, config.Config{})
	msg := func(guildID string, bot bool) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        "m1",
			GuildID:   guildID,
			ChannelID: "c1",
			Content:   "THIS IS SO COOL!!!",
			Author:    &discordgo.User{ID: "u1", Bot: bot},
			Timestamp: h.clock.Now(),
		}}
	}

	h.bot.onMessageCreate(nil, msg("g1", true))
	h.bot.onMessageCreate(nil, msg("", false))
	h.bot.onMessageCreate(nil, &discordgo.MessageCreate{})
	if deletes := h.api.CallsTo("DeleteMessage"); len(deletes) != 0 {
		t.Fatalf("expected no moderation, got %v", deletes)
	}

	h.bot.onMessageCreate(nil, msg("g1", false))
	if deletes := h.api.CallsTo("DeleteMessage"); len(deletes) != 1 {
		t.Fatalf("expected the caps message deleted, got %v", deletes)
	}
}

func snowflakeAt(at time.Time) string {
	return strconv.FormatInt((at.UnixMilli()-1420070400000)<<22, 10)
}

func TestJoinHandlerTimesOutNewAccounts(t *testing.T) {
	h := newHarness(t, config.Config{})
	join := func(id string) *discordgo.GuildMemberAdd {
		return &discordgo.GuildMemberAdd{Member: &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: id}}}
	}

	fresh := snowflakeAt(h.clock.Now().Add(-24 * time.Hour))
	old := snowflakeAt(h.clock.Now().Add(-30 * 24 * time.Hour))
	h.bot.onGuildMemberAdd(nil, join(old))
	h.bot.onGuildMemberAdd(nil, join(fresh))
	h.bot.onGuildMemberAdd(nil, join("not-a-snowflake"))
	h.bot.onGuildMemberAdd(nil, &discordgo.GuildMemberAdd{})

	timeouts := h.api.CallsTo("TimeoutMember")
	if len(timeouts) != 1 || timeouts[0].Args[1] != fresh {
		t.Fatalf("expected only the fresh account timed out, got %v", timeouts)
	}
}

func TestMaintainPrunesAndPostsReport(t *testing.T) {
	h := newHarness(t, config.Config{DefaultLogChannel: "logs", RetentionDays: 30})
	ctx := context.Background()

	old := storage.AuditLog{GuildID: "g1", Level: audit.LevelInfo, Event: "warn", Details: "old", CreatedAt: h.clock.Now().AddDate(0, 0, -40)}
	if err := h.store.AddAuditLog(ctx, old); err != nil {
		t.Fatalf("add audit log: %v", err)
	}
	h.audit.Log(ctx, audit.LevelWarn, "g1", "u1", "mute", "recent")

	h.bot.maintain(ctx)

	logs, err := h.store.ListAuditLogs(ctx, "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Details != "recent" {
		t.Fatalf("expected only the recent entry kept, got %+v", logs)
	}

	var report string
	for _, call := range h.api.CallsTo("SendChannelMessage") {
		if strings.HasPrefix(call.Args[1], "📊 Daily moderation report") {
			report = call.Args[1]
		}
	}
	if !strings.Contains(report, "Total events: 1") || !strings.Contains(report, "mute: 1") {
		t.Fatalf("unexpected daily report %q", report)
	}
}

func TestReportCommand(t *testing.T) {
	h := newHarness(t, config.Config{})
	ctx := context.Background()
	h.audit.Log(ctx, audit.LevelWarn, "g1", "u1", "mute", "a")
	h.audit.Log(ctx, audit.LevelCrit, "g1", "", "antiraid_lockdown", "b")

	embed := h.run(t, "report", strOpt("period", "week"))
	if embed.Title != "📊 Moderation report (last 7 days)" {
		t.Fatalf("unexpected title %q", embed.Title)
	}
	if !strings.HasPrefix(embed.Description, "Total events: 2\nINFO: 0 | WARN: 1 | CRIT: 1") {
		t.Fatalf("unexpected summary %q", embed.Description)
	}
	if embed := h.run(t, "report", strOpt("period", "year")); embed.Color != colorError {
		t.Fatalf("expected usage error, got %+v", embed)
	}
}

func TestCommandSetIsRestricted(t *testing.T) {
	for _, cmd := range commands() {
		switch cmd.Name {
		case "link":
			if cmd.DefaultMemberPermissions != nil {
				t.Fatalf("link must be open to every member")
			}
		case "unban":
			if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != discordgo.PermissionBanMembers {
				t.Fatalf("unban must require ban members")
			}
		default:
			if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != discordgo.PermissionManageServer {
				t.Fatalf("%s must require manage server", cmd.Name)
			}
		}
	}
}
