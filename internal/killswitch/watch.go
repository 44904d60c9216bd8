// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package killswitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/mevog/warden/internal/logging"
)

// Watch blocks and invokes onChange whenever the switch transitions between
// engaged and disengaged. It watches the flag file's directory so creation
// and removal are both observed. Watch returns when ctx is done.
//
// The KILL_SWITCH environment override is re-read on every event, so a
// process that inherited the override reports engaged regardless of file
// activity.
func (s *Switch) Watch(ctx context.Context, onChange func(engaged bool)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.flagPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch flag dir: %w", err)
	}

	last := s.Engaged()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.flagPath) {
				continue
			}
			if cur := s.Engaged(); cur != last {
				last = cur
				onChange(cur)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("kill switch watcher: %v", err)
		}
	}
}
