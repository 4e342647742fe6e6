package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default remote path templates. {host} and {server_id} are substituted from
// the endpoint before use.
const (
	DefaultDeathlogRoot = "./{host}_{server_id}/actual1/deathlogs"
	DefaultUnifiedLog   = "./{host}_{server_id}/Logs/Deadside.log"
)

// ServerEndpoint describes one game server reachable over SFTP. Immutable for
// the duration of a polling cycle.
type ServerEndpoint struct {
	GuildID  string `yaml:"-"`
	ServerID string `yaml:"server_id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Optional overrides of the default path templates.
	DeathlogRoot string `yaml:"deathlog_root,omitempty"`
	UnifiedLog   string `yaml:"unified_log,omitempty"`
}

// Addr returns the host:port dial address.
func (e ServerEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// DeathlogPath returns the expanded death-log root directory for this server.
func (e ServerEndpoint) DeathlogPath() string {
	tmpl := e.DeathlogRoot
	if tmpl == "" {
		tmpl = DefaultDeathlogRoot
	}
	return e.expand(tmpl)
}

// UnifiedLogPath returns the expanded unified log file path for this server.
func (e ServerEndpoint) UnifiedLogPath() string {
	tmpl := e.UnifiedLog
	if tmpl == "" {
		tmpl = DefaultUnifiedLog
	}
	return e.expand(tmpl)
}

func (e ServerEndpoint) expand(tmpl string) string {
	r := strings.NewReplacer("{host}", e.Host, "{server_id}", e.ServerID)
	return r.Replace(tmpl)
}

// guildEntry is the YAML shape of one guild block in the servers file.
type guildEntry struct {
	GuildID string           `yaml:"guild_id"`
	Servers []ServerEndpoint `yaml:"servers"`
}

type serversFile struct {
	Guilds []guildEntry `yaml:"guilds"`
}

// LoadServers reads the server roster from a YAML file and returns the flat
// list of endpoints with GuildID filled in.
func LoadServers(path string) ([]ServerEndpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	var endpoints []ServerEndpoint
	for _, g := range f.Guilds {
		if g.GuildID == "" {
			return nil, fmt.Errorf("servers file: guild entry without guild_id")
		}
		for _, s := range g.Servers {
			if s.ServerID == "" || s.Host == "" {
				return nil, fmt.Errorf("servers file: guild %s has a server without server_id or host", g.GuildID)
			}
			if s.Port == 0 {
				s.Port = 22
			}
			s.GuildID = g.GuildID
			endpoints = append(endpoints, s)
		}
	}

	return endpoints, nil
}
