package image

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
)

// Modification time written for every archive entry.
var epoch = time.Unix(0, 0)

// Writes a deterministic tar of the tree under root to w.
//
// Entries are written in lexical walk order, owned by root, with a fixed
// modification time and no user or group names. Sockets are skipped.
//
// When baseDir is set, a directory that the base provides as a symlink to
// another directory is not emitted; its contents are written under the link
// target instead. Extracting the layer over the base then keeps the link
// (e.g., /bin -> usr/bin) intact.
func writeTar(w io.Writer, root, baseDir string) error {
	tw := tar.NewWriter(w)

	// Archive name for each directory visited, keyed by its path under root.
	names := map[string]string{".": ""}

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)
			name := path.Join(names[path.Dir(rel)], path.Base(rel))

			info, err := os.Lstat(osPathname)
			if err != nil {
				return err
			}
			if info.Mode()&os.ModeSocket != 0 {
				return nil
			}

			if info.IsDir() {
				if target, ok := baseDirLink(baseDir, name); ok {
					names[rel] = target
					return nil
				}
				names[rel] = name
			}

			return writeEntry(tw, osPathname, name, info)
		},
	})
	if err != nil {
		return err
	}

	return tw.Close()
}

// Writes one header, and the file content for regular files.
func writeEntry(tw *tar.Writer, osPathname, name string, info os.FileInfo) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		var err error
		if link, err = os.Readlink(osPathname); err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}

	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.ModTime = epoch
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(osPathname)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.CopyN(tw, f, hdr.Size)
	return err
}

// Returns the directory that name links to in the base tree, when the base
// holds a symlink at name pointing at a real directory inside the tree.
func baseDirLink(baseDir, name string) (string, bool) {
	if baseDir == "" {
		return "", false
	}

	p := filepath.Join(baseDir, filepath.FromSlash(name))
	fi, err := os.Lstat(p)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return "", false
	}

	link, err := os.Readlink(p)
	if err != nil {
		return "", false
	}

	var target string
	if path.IsAbs(link) {
		target = path.Clean(strings.TrimPrefix(link, "/"))
	} else {
		target = path.Join(path.Dir(name), link)
	}
	if target == "." || target == ".." || strings.HasPrefix(target, "../") {
		return "", false
	}

	st, err := os.Lstat(filepath.Join(baseDir, filepath.FromSlash(target)))
	if err != nil || !st.IsDir() {
		return "", false
	}

	return target, true
}
