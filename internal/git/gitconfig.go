package git

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

type RemoteSection struct {
	URL   string `ini:"url"`
	Fetch string `ini:"fetch"`
}

type BranchSection struct {
	Remote string `ini:"remote"`
	Merge  string `ini:"merge"`
}

// WorkingCopyConfig is the subset of .git/config the engine inspects before
// reusing an existing working copy.
type WorkingCopyConfig struct {
	Remotes  map[string]RemoteSection
	Branches map[string]BranchSection
}

// ReadConfig parses .git/config under dir.
func ReadConfig(dir string) (*WorkingCopyConfig, error) {
	cfg, err := ini.Load(filepath.Join(dir, ".git", "config"))
	if err != nil {
		return nil, fmt.Errorf("read git config in %s: %w", dir, err)
	}

	wc := &WorkingCopyConfig{
		Remotes:  make(map[string]RemoteSection),
		Branches: make(map[string]BranchSection),
	}

	for _, sec := range cfg.Sections() {
		name := sec.Name()
		switch {
		case strings.HasPrefix(name, `remote "`):
			var remote RemoteSection
			if err := sec.MapTo(&remote); err != nil {
				return nil, err
			}
			wc.Remotes[strings.Trim(name[len("remote "):], `"`)] = remote
		case strings.HasPrefix(name, `branch "`):
			var branch BranchSection
			if err := sec.MapTo(&branch); err != nil {
				return nil, err
			}
			wc.Branches[strings.Trim(name[len("branch "):], `"`)] = branch
		}
	}

	return wc, nil
}

// OriginURL returns the origin remote URL recorded in .git/config at dir.
// Reading the config file directly avoids spawning git for a pure lookup.
func (c *Client) OriginURL(dir string) (string, error) {
	return OriginURL(dir)
}

// OriginURL returns the origin remote URL recorded in .git/config at dir.
func OriginURL(dir string) (string, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return "", err
	}
	remote, ok := cfg.Remotes["origin"]
	if !ok || remote.URL == "" {
		return "", fmt.Errorf("no origin remote configured in %s", dir)
	}
	return remote.URL, nil
}
