package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const partialSuffix = ".partial"

// Fetcher downloads artifacts over HTTP into "<dest>.partial" and renames
// the file into place once complete. An existing partial file is resumed
// with a Range request.
type Fetcher struct {
	Client    *http.Client
	AuthToken string
	Log       zerolog.Logger
	// Step is the minimum fraction increase between progress reports.
	Step float64
}

// NewFetcher returns a Fetcher using client (http.DefaultClient when nil).
func NewFetcher(client *http.Client, authToken string, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client, AuthToken: authToken, Log: log, Step: 0.01}
}

// Fetch implements Engine.Fetch.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string, onProgress func(float64)) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	partialPath := destPath + partialSuffix

	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	if f.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.AuthToken)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		// Server ignored the range; start over.
		startByte = 0
		flags |= os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		if startByte == 0 {
			return fmt.Errorf("download failed with status %d", resp.StatusCode)
		}
		resp.Body.Close()
		if n, ok := unsatisfiedLength(resp.Header.Get("Content-Range")); ok && n == startByte {
			// The partial already holds the whole artifact.
			if err := os.Rename(partialPath, destPath); err != nil {
				return fmt.Errorf("rename file: %w", err)
			}
			onProgress(1)
			f.Log.Info().Str("dest", destPath).Int64("bytes", n).Msg("download already complete")
			return nil
		}
		f.Log.Warn().Str("partial", partialPath).Int64("size", startByte).Msg("partial does not match remote; restarting download")
		if err := os.Remove(partialPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove partial: %w", err)
		}
		return f.Fetch(ctx, url, destPath, onProgress)
	default:
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	var total int64 = -1
	if resp.ContentLength >= 0 {
		total = resp.ContentLength + startByte
	}

	out, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer out.Close()

	f.Log.Info().Str("url", url).Str("dest", destPath).Int64("resume_from", startByte).Int64("total", total).Msg("download start")

	step := f.Step
	if step <= 0 {
		step = 0.01
	}
	last := -1.0
	report := func(done int64) {
		if total <= 0 {
			return
		}
		frac := float64(done) / float64(total)
		if last < 0 || frac-last >= step || frac >= 1 {
			last = frac
			onProgress(frac)
		}
	}
	report(startByte)

	buf := make([]byte, 32*1024)
	downloaded := startByte
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write file: %w", writeErr)
			}
			downloaded += int64(n)
			report(downloaded)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("read body: %w", readErr)
		}
	}
	if total > 0 && downloaded < total {
		return fmt.Errorf("download truncated: %d of %d bytes", downloaded, total)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(partialPath, destPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	if last < 1 {
		onProgress(1)
	}
	f.Log.Info().Str("dest", destPath).Int64("bytes", downloaded).Msg("download done")
	return nil
}

// unsatisfiedLength parses the complete length from a 416 Content-Range
// header ("bytes */N").
func unsatisfiedLength(h string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes */")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
