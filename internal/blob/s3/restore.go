package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// ErrExists is returned by Restore when a destination file is already
// present and overwrite was not requested.
var ErrExists = errors.New("s3blob: destination exists")

// BotDayPrefix is the key prefix ArchiveBotDir writes one bot's day under.
func BotDayPrefix(prefix, bot string, day time.Time) string {
	if prefix == "" {
		prefix = "archive"
	}
	return path.Join(prefix, "bots", bot, day.UTC().Format(time.DateOnly)) + "/"
}

// ArchivedDays lists the days archived for bot, oldest first.
func ArchivedDays(ctx context.Context, r domain.BlobReader, prefix, bot string) ([]string, error) {
	if prefix == "" {
		prefix = "archive"
	}
	root := path.Join(prefix, "bots", bot) + "/"
	infos, err := r.List(ctx, root)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var days []string
	for _, info := range infos {
		day, _, ok := strings.Cut(strings.TrimPrefix(info.Path, root), "/")
		if ok && !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Strings(days)
	return days, nil
}

// Restore downloads one bot's archived day into destDir and returns the
// number of files written. Existing files are kept unless overwrite is
// set; each file is written to a temp name and renamed into place.
func Restore(ctx context.Context, r domain.BlobReader, prefix, bot string, day time.Time, destDir string, overwrite bool) (int, error) {
	root := BotDayPrefix(prefix, bot, day)
	infos, err := r.List(ctx, root)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, fmt.Errorf("s3blob: restore %s: %w", root, domain.ErrNotFound)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("s3blob: restore mkdir: %w", err)
	}

	if !overwrite {
		for _, info := range infos {
			dst := filepath.Join(destDir, path.Base(info.Path))
			if _, err := os.Stat(dst); err == nil {
				return 0, fmt.Errorf("%w: %s", ErrExists, dst)
			}
		}
	}

	n := 0
	for _, info := range infos {
		if err := download(ctx, r, info.Path, filepath.Join(destDir, path.Base(info.Path))); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func download(ctx context.Context, r domain.BlobReader, key, dst string) error {
	body, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "restore-*.tmp")
	if err != nil {
		return fmt.Errorf("s3blob: restore temp: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("s3blob: restore %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("s3blob: restore close: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("s3blob: restore rename: %w", err)
	}
	return nil
}
