package bot

import "github.com/bwmarrin/discordgo"

var (
	manageServer = int64(discordgo.PermissionManageServer)
	banMembers   = int64(discordgo.PermissionBanMembers)
	dmAllowed    = true
	dmDenied     = false
)

func actionOption(description string, actions ...string) *discordgo.ApplicationCommandOption {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(actions))
	for _, action := range actions {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: action, Value: action})
	}
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "action",
		Description: description,
		Required:    true,
		Choices:     choices,
	}
}

func channelOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  description,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
	}
}

func adminCommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     name,
		Description:              description,
		DefaultMemberPermissions: &manageServer,
		DMPermission:             &dmDenied,
		Options:                  options,
	}
}

// commands is the full slash command set, registered globally.
func commands() []*discordgo.ApplicationCommand {
	toggle := actionOption("enable, disable or status", "enable", "disable", "status")
	return []*discordgo.ApplicationCommand{
		adminCommand("autoslow", "Toggle automatic slowmode", toggle),
		adminCommand("autoslow_blacklist", "Exclude channels from automatic slowmode",
			actionOption("add, remove or list", "add", "remove", "list"),
			channelOption("Channel to add or remove"),
		),
		adminCommand("slowmode_thresholds", "Set message thresholds, e.g. 50:30,20:15,10:5,0:0",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "thresholds",
				Description: "Comma separated messages:seconds pairs",
				Required:    true,
			},
		),
		adminCommand("check_frequency", "Set how often slowmode is recalculated",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "seconds",
				Description: "Seconds between recalculations",
				Required:    true,
				MinValue:    floatPtr(1),
			},
		),
		adminCommand("moderation", "Toggle message moderation", toggle),
		adminCommand("badword", "Manage the bad word list",
			actionOption("add, remove or list", "add", "remove", "list"),
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "value",
				Description: "Word to add or remove",
			},
		),
		adminCommand("bannedlink", "Manage the banned link list",
			actionOption("add, remove or list", "add", "remove", "list"),
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "value",
				Description: "Link or domain to add or remove",
			},
		),
		adminCommand("antiraid", "Toggle raid mode for new joins", toggle),
		adminCommand("lockdown", "Apply slowmode to every text channel",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "level",
				Description: "1 (15s), 2 (30s), 3 (60s) or off",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "1", Value: "1"},
					{Name: "2", Value: "2"},
					{Name: "3", Value: "3"},
					{Name: "off", Value: "off"},
				},
			},
		),
		adminCommand("logchannel", "Set, show or reset the moderation log channel",
			actionOption("set, get or reset", "set", "get", "reset"),
			channelOption("Log channel"),
		),
		{
			Name:                     "unban",
			Description:              "Unban a user by ID",
			DefaultMemberPermissions: &banMembers,
			DMPermission:             &dmDenied,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user_id",
					Description: "ID of the banned user",
					Required:    true,
				},
			},
		},
		adminCommand("report", "Summarise moderation activity",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "period",
				Description: "day or week",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "day", Value: "day"},
					{Name: "week", Value: "week"},
				},
			},
		),
		adminCommand("status", "Show the moderation status of this server"),
		{
			Name:         "link",
			Description:  "Link your Twitch or YouTube account",
			DMPermission: &dmAllowed,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "platform",
					Description: "twitch or youtube",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "twitch", Value: "twitch"},
						{Name: "youtube", Value: "youtube"},
					},
				},
			},
		},
	}
}

// registerCommands replaces the global command set in one call, which also
// drops commands that no longer exist.
func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	_, err := b.session.ApplicationCommandBulkOverwrite(appID, "", commands())
	return err
}

func floatPtr(v float64) *float64 {
	return &v
}
