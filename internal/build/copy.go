package build

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// Writes the source files to a tar stream, rooted at the source tree.
//
// Parent directories are emitted before the first file they contain.
func writeSourcesToTar(tw *tar.Writer, src Source) error {
	dirs := make(map[string]bool)
	for _, name := range src.Files {
		if err := writeParentDirs(tw, name, dirs); err != nil {
			return err
		}
		if err := writeFileToTar(tw, filepath.Join(src.Root, filepath.FromSlash(name)), name); err != nil {
			return err
		}
	}
	return nil
}

// Writes directory entries for the parents of name not yet written.
func writeParentDirs(tw *tar.Writer, name string, written map[string]bool) error {
	dir := path.Dir(name)
	if dir == "." || written[dir] {
		return nil
	}
	if err := writeParentDirs(tw, dir, written); err != nil {
		return err
	}
	written[dir] = true
	return tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     0755,
	})
}

// Writes a single file to a tar writer with the given archive name.
func writeFileToTar(tw *tar.Writer, hostPath, name string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

// Extracts the single regular file named name from a tar stream to dest.
//
// The rest of the stream is drained so that the writer never blocks.
func extractFile(r io.Reader, name, dest string) error {
	tr := tar.NewReader(r)
	found := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if found || path.Clean(hdr.Name) != name {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return fmt.Errorf("%s is not a regular file", name)
		}
		if err := writeFile(tr, dest, os.FileMode(hdr.Mode).Perm()); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return fmt.Errorf("%s not in archive", name)
	}
	return nil
}

// Writes r to a new file at dest.
func writeFile(r io.Reader, dest string, mode os.FileMode) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
