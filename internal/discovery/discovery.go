package discovery

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
)

// FileRef is one rotated remote file with its filename-embedded timestamp.
// The timestamp is the ordering key: remote mtimes are unreliable over SFTP,
// the name is written by the game server itself.
type FileRef struct {
	Path  string
	Dir   string
	Name  string
	Size  int64
	Stamp time.Time
}

// Filename timestamp pattern: YYYY.MM.DD-HH.MM.SS
// Example: "2025.06.03-01.45.48.csv"
var filenameStampRegex = regexp.MustCompile(`(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2})`)

const filenameStampLayout = "2006.01.02-15.04.05"

// StampFromName extracts the embedded timestamp from a rotated filename.
// Returns false for names without a parseable stamp; such files are ignored
// by discovery.
func StampFromName(name string) (time.Time, bool) {
	m := filenameStampRegex.FindStringSubmatch(path.Base(name))
	if len(m) < 2 {
		return time.Time{}, false
	}
	ts, err := time.Parse(filenameStampLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ListAll recursively collects every file under root with the given extension
// and a parseable filename timestamp, sorted ascending by stamp (ties broken
// by name). Rotated files may live in dated or world-numbered subdirectories,
// so the whole tree is walked.
func ListAll(fc sftppool.FileClient, root, ext string) ([]FileRef, error) {
	var refs []FileRef
	if err := walk(fc, root, ext, &refs); err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Stamp.Equal(refs[j].Stamp) {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Stamp.Before(refs[j].Stamp)
	})
	return refs, nil
}

// FindNewest returns the file with the maximum filename timestamp under root,
// or ok=false when no candidate exists. Equal stamps resolve to the
// lexicographically greater name for determinism.
func FindNewest(fc sftppool.FileClient, root, ext string) (FileRef, bool, error) {
	refs, err := ListAll(fc, root, ext)
	if err != nil {
		return FileRef{}, false, err
	}
	if len(refs) == 0 {
		return FileRef{}, false, nil
	}
	return refs[len(refs)-1], true, nil
}

func walk(fc sftppool.FileClient, dir, ext string, out *[]FileRef) error {
	entries, err := fc.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		full := path.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walk(fc, full, ext, out); err != nil {
				// A vanished or unreadable subdirectory must not abort the
				// scan of its siblings.
				log.Debug().Str("dir", full).Err(err).Msg("Skipping unreadable subdirectory")
			}
			continue
		}
		if !strings.EqualFold(path.Ext(entry.Name()), ext) {
			continue
		}
		stamp, ok := StampFromName(entry.Name())
		if !ok {
			log.Debug().Str("file", full).Msg("Ignoring file without filename timestamp")
			continue
		}
		*out = append(*out, FileRef{
			Path:  full,
			Dir:   dir,
			Name:  entry.Name(),
			Size:  entry.Size(),
			Stamp: stamp,
		})
	}
	return nil
}
