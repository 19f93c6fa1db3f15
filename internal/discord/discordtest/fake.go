// Package discordtest provides an in-memory discord.API for tests.
package discordtest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"guildwarden/internal/discord"

	"github.com/bwmarrin/discordgo"
)

type Call struct {
	Method string
	Args   []string
}

// Fake records every call and serves channels, roles and bans from memory.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	channels map[string][]discord.Channel
	roles    map[string][]discord.Role
	bans     map[string]bool
	guilds   []string
	errs     map[string]error
	nextID   int
}

var _ discord.API = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		channels: make(map[string][]discord.Channel),
		roles:    make(map[string][]discord.Role),
		bans:     make(map[string]bool),
		errs:     make(map[string]error),
	}
}

// RESTError builds the error discordgo returns for an HTTP failure.
func RESTError(status int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: status, Status: http.StatusText(status)}}
}

// Fail makes method return err. An empty target fails every call to method;
// otherwise only calls whose first argument equals target fail.
func (f *Fake) Fail(method, target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method+"|"+target] = err
}

func (f *Fake) AddGuild(guildID string, channels ...discord.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds = append(f.guilds, guildID)
	for _, channel := range channels {
		channel.GuildID = guildID
		f.channels[guildID] = append(f.channels[guildID], channel)
	}
}

func (f *Fake) AddRoleToGuild(guildID string, role discord.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = append(f.roles[guildID], role)
}

func (f *Fake) SetBanned(guildID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans[guildID+":"+userID] = true
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, call := range f.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (f *Fake) Slowmode(channelID string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, channels := range f.channels {
		for _, channel := range channels {
			if channel.ID == channelID {
				return channel.Slowmode, true
			}
		}
	}
	return 0, false
}

func (f *Fake) record(method string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	if len(args) > 0 {
		if err, ok := f.errs[method+"|"+args[0]]; ok {
			return err
		}
	}
	return f.errs[method+"|"]
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return f.record("DeleteMessage", channelID, messageID)
}

func (f *Fake) SendDirectMessage(ctx context.Context, userID, content string) error {
	return f.record("SendDirectMessage", userID, content)
}

func (f *Fake) SendChannelMessage(ctx context.Context, channelID, content string) error {
	return f.record("SendChannelMessage", channelID, content)
}

func (f *Fake) GuildRoles(ctx context.Context, guildID string) ([]discord.Role, error) {
	if err := f.record("GuildRoles", guildID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Role(nil), f.roles[guildID]...), nil
}

func (f *Fake) CreateRole(ctx context.Context, guildID, name string) (discord.Role, error) {
	if err := f.record("CreateRole", guildID, name); err != nil {
		return discord.Role{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	role := discord.Role{ID: "role-" + strconv.Itoa(f.nextID), Name: name}
	f.roles[guildID] = append(f.roles[guildID], role)
	return role, nil
}

func (f *Fake) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return f.record("AddRole", guildID, userID, roleID)
}

func (f *Fake) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return f.record("RemoveRole", guildID, userID, roleID)
}

func (f *Fake) GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error) {
	if err := f.record("GuildChannels", guildID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Channel(nil), f.channels[guildID]...), nil
}

func (f *Fake) DenyRolePermissions(ctx context.Context, channelID, roleID string, deny int64) error {
	return f.record("DenyRolePermissions", channelID, roleID, strconv.FormatInt(deny, 10))
}

func (f *Fake) EditChannelSlowmode(ctx context.Context, channelID string, seconds int, reason string) error {
	if err := f.record("EditChannelSlowmode", channelID, strconv.Itoa(seconds), reason); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for guildID, channels := range f.channels {
		for i := range channels {
			if channels[i].ID == channelID {
				f.channels[guildID][i].Slowmode = seconds
			}
		}
	}
	return nil
}

func (f *Fake) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return f.record("TimeoutMember", guildID, userID, until.UTC().Format(time.RFC3339), reason)
}

func (f *Fake) IsBanned(ctx context.Context, guildID, userID string) (bool, error) {
	if err := f.record("IsBanned", guildID, userID); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bans[guildID+":"+userID], nil
}

func (f *Fake) BanMember(ctx context.Context, guildID, userID, reason string) error {
	if err := f.record("BanMember", guildID, userID, reason); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans[guildID+":"+userID] = true
	return nil
}

func (f *Fake) UnbanMember(ctx context.Context, guildID, userID string) error {
	if err := f.record("UnbanMember", guildID, userID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bans[guildID+":"+userID] {
		return RESTError(http.StatusNotFound)
	}
	delete(f.bans, guildID+":"+userID)
	return nil
}

func (f *Fake) GuildIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.guilds...)
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Method, c.Args)
}
