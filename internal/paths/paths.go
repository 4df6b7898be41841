// Package paths lays out the on-disk data directory. Everything the
// daemon persists lives under a single base dir, with per-instance
// subtrees keyed by instance id.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBase returns ~/.wahub.
func DefaultBase() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wahub")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(DefaultBase(), "config.toml")
}

// Layout resolves paths under one base directory.
type Layout struct {
	Base string
}

// DBPath returns the app-owned sqlite database path.
func (l Layout) DBPath() string {
	return filepath.Join(l.Base, "wahub.db")
}

// LogPath returns the daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.Base, "logs", "wahubd.log")
}

// InstanceDir returns the subtree owned by one instance.
func (l Layout) InstanceDir(instanceID int64) string {
	return filepath.Join(l.Base, "instances", fmt.Sprintf("%d", instanceID))
}

// AuthDir holds the transport credential material for an instance.
func (l Layout) AuthDir(instanceID int64) string {
	return filepath.Join(l.InstanceDir(instanceID), "auth")
}

// MediaDir holds downloaded message media for an instance.
func (l Layout) MediaDir(instanceID int64) string {
	return filepath.Join(l.InstanceDir(instanceID), "media")
}

// AvatarDir holds cached profile pictures for an instance.
func (l Layout) AvatarDir(instanceID int64) string {
	return filepath.Join(l.InstanceDir(instanceID), "avatars")
}

// QRPath returns where the current pairing code image is written.
func (l Layout) QRPath(instanceID int64) string {
	return filepath.Join(l.InstanceDir(instanceID), "qr.png")
}

// EnsureBase creates the base directory tree.
func (l Layout) EnsureBase() error {
	for _, d := range []string{l.Base, filepath.Join(l.Base, "logs"), filepath.Join(l.Base, "instances")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// EnsureInstance creates one instance's subtree.
func (l Layout) EnsureInstance(instanceID int64) error {
	for _, d := range []string{
		l.AuthDir(instanceID),
		l.MediaDir(instanceID),
		l.AvatarDir(instanceID),
	} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// RemoveInstance deletes one instance's subtree, credentials included.
func (l Layout) RemoveInstance(instanceID int64) error {
	return os.RemoveAll(l.InstanceDir(instanceID))
}
