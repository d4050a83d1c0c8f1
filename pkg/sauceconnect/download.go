package sauceconnect

import (
	"archive/tar"
	"archive/zip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const (
	versionsPath       = "rest/v1/public/tunnels/info/versions"
	downloadAttempts   = 3
	downloadMaxElapsed = 5 * time.Minute
)

var ErrDownload = errors.New("failed to download sauce connect")

type versionsResponse struct {
	LatestVersion string                  `json:"latest_version"`
	Downloads     map[string]downloadInfo `json:"downloads"`
}

type downloadInfo struct {
	URL  string `json:"download_url"`
	SHA1 string `json:"sha1"`
}

// Downloader fetches the latest sc release into a cache directory.
type Downloader struct {
	client   *http.Client
	cacheDir string
	platform string
	backOff  func() backoff.BackOff

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDownloader(cacheDir string) *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: 2 * time.Minute},
		cacheDir: cacheDir,
		platform: platformKey(runtime.GOOS, runtime.GOARCH),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = downloadMaxElapsed
			return backoff.WithMaxRetries(b, downloadAttempts-1)
		},
		locks: make(map[string]*sync.Mutex),
	}
}

// versionLock serialises downloads of one version so concurrent opens never
// see a binary that is still being written.
func (d *Downloader) versionLock(version string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks == nil {
		d.locks = make(map[string]*sync.Mutex)
	}
	l, ok := d.locks[version]
	if !ok {
		l = &sync.Mutex{}
		d.locks[version] = l
	}
	return l
}

func cachedBinary(target string) bool {
	fi, err := os.Stat(target)
	return err == nil && fi.Mode().IsRegular()
}

// platformKey maps GOOS/GOARCH to the keys of the versions document.
func platformKey(goos, goarch string) string {
	switch goos {
	case "darwin":
		return "osx"
	case "windows":
		return "win32"
	case "linux":
		if goarch == "arm64" {
			return "linux-arm64"
		}
		return "linux"
	}
	return goos
}

// Latest returns the path of the newest sc binary, downloading and
// unpacking it unless that version is already cached.
func (d *Downloader) Latest(ctx context.Context, restEndpoint string) (string, error) {
	var versions versionsResponse
	err := d.retry(ctx, func() error {
		return d.getJSON(ctx, restEndpoint+versionsPath, &versions)
	})
	if err != nil {
		return "", fmt.Errorf("%w: version lookup: %w", ErrDownload, err)
	}

	info, ok := versions.Downloads[d.platform]
	if !ok || info.URL == "" {
		return "", fmt.Errorf("%w: no release for platform %s", ErrDownload, d.platform)
	}

	dir := filepath.Join(d.cacheDir, "sc-"+versions.LatestVersion)
	target := filepath.Join(dir, binaryFileName())

	lock := d.versionLock(versions.LatestVersion)
	lock.Lock()
	defer lock.Unlock()

	if cachedBinary(target) {
		log.Debug().Str("path", target).Msg("Using cached Sauce Connect binary.")
		return target, nil
	}

	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}

	log.Info().Str("version", versions.LatestVersion).Str("url", info.URL).Msg("Downloading Sauce Connect.")

	archive, err := os.CreateTemp(dir, "download-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	err = d.retry(ctx, func() error {
		return d.fetch(ctx, info, archive)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if strings.HasSuffix(info.URL, ".zip") {
		err = extractZip(archive, target)
	} else {
		err = extractTarGz(archive, target)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return target, nil
}

func (d *Downloader) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(d.backOff(), ctx))
}

func (d *Downloader) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err = checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// fetch writes the archive into f, truncating whatever an earlier attempt
// left, and verifies its checksum when the release lists one.
func (d *Downloader) fetch(ctx context.Context, info downloadInfo, f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return backoff.Permanent(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err = checkStatus(resp); err != nil {
		return err
	}

	h := sha1.New()
	if _, err = io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return err
	}
	if info.SHA1 != "" && !strings.EqualFold(hex.EncodeToString(h.Sum(nil)), info.SHA1) {
		return errors.New("checksum mismatch")
	}
	return nil
}

// checkStatus treats 4xx as permanent and anything else non-2xx as retryable.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("unexpected status %s", resp.Status)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(err)
	}
	return err
}

func extractTarGz(f *os.File, target string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("archive has no %s binary", binaryFileName())
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg && isSauceConnectBinary(hdr.Name) {
			return writeBinary(tr, target)
		}
	}
}

func extractZip(f *os.File, target string) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !isSauceConnectBinary(zf.Name) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		return writeBinary(rc, target)
	}
	return fmt.Errorf("archive has no %s binary", binaryFileName())
}

// writeBinary writes r to a temporary file next to target and renames it
// into place.
func writeBinary(r io.Reader, target string) error {
	out, err := os.CreateTemp(filepath.Dir(target), "sc-*.partial")
	if err != nil {
		return err
	}
	tmp := out.Name()
	if err = out.Chmod(0755); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err = io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err = out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}
