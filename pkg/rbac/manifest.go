package rbac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manifest declares roles and their permissions in YAML:
//
//	roles:
//	  - name: editor
//	    description: Edits projects
//	    permissions: [VIEW_PROJECT, EDIT_PROJECT]
type Manifest struct {
	Roles []CreateRoleInput `yaml:"roles"`
}

// ManifestResult reports what ApplyManifest changed
type ManifestResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// LoadManifest loads and parses a role manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates a role manifest. Unknown keys,
// unknown permissions and duplicate role names are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Roles))
	for i := range m.Roles {
		role := &m.Roles[i]
		name, err := required("name", role.Name)
		if err != nil {
			return nil, fmt.Errorf("manifest role %d: %w", i, err)
		}
		if seen[name] {
			return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("role %q is declared twice", name)}
		}
		seen[name] = true
		role.Name = name

		if role.Permissions, err = normalizeInputPermissions(role.Permissions); err != nil {
			return nil, fmt.Errorf("manifest role %q: %w", name, err)
		}
	}
	return &m, nil
}

// ApplyManifest makes the stored roles match the manifest. Missing roles are
// created; existing roles get their description and permission set reconciled.
// Roles absent from the manifest are left alone, so applying twice is a no-op.
func ApplyManifest(ctx context.Context, svc *Service, m *Manifest, meta AuditMeta) (*ManifestResult, error) {
	result := &ManifestResult{}
	for _, desired := range m.Roles {
		current, err := svc.GetRoleByName(ctx, desired.Name)
		if err != nil {
			return result, err
		}

		if current == nil {
			if _, err := svc.CreateRole(ctx, desired, meta); err != nil {
				return result, err
			}
			result.Created = append(result.Created, desired.Name)
			continue
		}

		var update UpdateRoleInput
		if current.Description != desired.Description {
			desc := desired.Description
			update.Description = &desc
		}
		toAdd, toRemove := diffPermissions(current.Permissions, desired.Permissions)
		if len(toAdd) > 0 || len(toRemove) > 0 {
			perms := desired.Permissions
			update.Permissions = &perms
		}
		if update.Description == nil && update.Permissions == nil {
			result.Unchanged = append(result.Unchanged, desired.Name)
			continue
		}

		if _, err := svc.UpdateRole(ctx, current.ID, update, meta); err != nil {
			return result, err
		}
		result.Updated = append(result.Updated, desired.Name)
	}
	return result, nil
}

// WatchManifest calls onChange whenever the manifest file is written or
// replaced, until ctx is cancelled. The parent directory is watched so that
// editors which swap the file by rename are picked up. Bursts of events are
// collapsed into one call after debounce.
func WatchManifest(ctx context.Context, path string, debounce time.Duration, log logrus.FieldLogger, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField("op", event.Op.String()).Debug("manifest changed")
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("manifest watcher error")
		}
	}
}
