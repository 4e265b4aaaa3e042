package session

import (
	"errors"
	"io/fs"

	"github.com/matheus3301/chatsync/internal/config"
)

// DefaultName is the profile used when nothing else names one.
const DefaultName = "main"

// Resolve picks the profile to run as. An explicit name wins, then
// default_session from the config at configPath (CHATSYNC_DEFAULT_SESSION
// overrides the file), then DefaultName. A missing config is not an error;
// one that cannot be read is. The result is always a valid name.
func Resolve(explicit, configPath string) (string, error) {
	name := explicit
	if name == "" {
		cfg, err := config.Load(configPath)
		switch {
		case err == nil:
			name = cfg.DefaultSession
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
	}
	if name == "" {
		name = DefaultName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
