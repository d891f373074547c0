package image

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/pebble"
)

// User database files, relative to the image root.
var userFiles = []string{"etc/passwd", "etc/group"}

// Creates the run-user and makes it the default user.
//
// Each user database file is taken from the prime tree when it ships one,
// otherwise from the base. When the prime tree ships either file the user
// layer is placed after the prime layer so it is not masked. If the user
// already exists no layer is added.
func (i *Image) addUser(ctx context.Context, s Settings) error {
	delete(i.layers, layerUser)
	i.userAfterPrime = false
	if s.RunUser == "" {
		return nil
	}

	sources := make(map[string]string, len(userFiles))
	for _, f := range userFiles {
		sources[f] = filepath.Join(s.BaseLayerDir, filepath.FromSlash(f))
		if p := filepath.Join(s.PrimeDir, filepath.FromSlash(f)); s.PrimeDir != "" && exists(p) {
			sources[f] = p
			i.userAfterPrime = true
		}
	}

	passwd, err := readOptional(sources["etc/passwd"])
	if err != nil {
		return err
	}
	i.config.Config.User = s.RunUser

	if hasEntry(passwd, s.RunUser) {
		emit.FromContext(ctx).Debug("run-user already exists", "user", s.RunUser)
		return nil
	}

	dir, err := i.scratch("user")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "etc"), paths.DefaultDirMode); err != nil {
		return err
	}

	for _, f := range userFiles {
		if exists(sources[f]) {
			if err := cp.Copy(sources[f], filepath.Join(dir, filepath.FromSlash(f))); err != nil {
				return err
			}
		}
	}

	entries := map[string]string{
		"etc/passwd": fmt.Sprintf("%s:x:%d:%d::%s:/usr/bin/false", s.RunUser, s.UID, s.UID, pebble.HomeDir),
		"etc/group":  fmt.Sprintf("%s:x:%d:", s.RunUser, s.UID),
	}
	for _, f := range userFiles {
		if err := appendLine(filepath.Join(dir, filepath.FromSlash(f)), entries[f]); err != nil {
			return err
		}
	}

	layer, err := i.buildLayer(dir, s.BaseLayerDir, "user.tar")
	if err != nil {
		return err
	}
	i.layers[layerUser] = layer

	emit.FromContext(ctx).Progress("added run-user", "user", s.RunUser, "uid", s.UID)
	return nil
}

// Reports whether a passwd-style database has an entry for name.
func hasEntry(db []byte, name string) bool {
	sc := bufio.NewScanner(bytes.NewReader(db))
	for sc.Scan() {
		if user, _, ok := strings.Cut(sc.Text(), ":"); ok && user == name {
			return true
		}
	}
	return false
}

// Appends a line to a file, creating it if needed and terminating any
// unterminated last line first.
func appendLine(path, line string) error {
	existing, err := readOptional(path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, paths.DefaultFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		line = "\n" + line
	}
	_, err = f.WriteString(line + "\n")
	return err
}
