package ingest

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/resilience"
)

// FetchOptions configures Fetch.
type FetchOptions struct {
	Client    *http.Client
	UserAgent string
	Retry     resilience.Policy
	// Member picks a file inside a ZIP archive by base name. Empty picks the
	// first shapefile, CSV or XLSX found.
	Member string
}

// datasetExts are the file types Fetch looks for inside an archive, in
// order of preference.
var datasetExts = []string{".shp", ".csv", ".xlsx"}

// Fetch resolves a dataset source to a local file. HTTP(S) sources are
// downloaded into dir. ZIP archives are extracted into dir and the dataset
// file inside is returned. Other local paths are returned unchanged.
func Fetch(ctx context.Context, source, dir string, opts FetchOptions) (string, error) {
	local := source
	if isURL(source) {
		name := path.Base(strings.SplitN(source, "?", 2)[0])
		if name == "" || name == "/" || name == "." {
			name = "dataset"
		}
		local = filepath.Join(dir, name)
		n, err := download(ctx, source, local, opts)
		if err != nil {
			return "", err
		}
		zap.L().Info("ingest: downloaded dataset", zap.String("url", source), zap.Int64("bytes", n))
	}

	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, nil
	}
	files, err := extractZIP(local, filepath.Join(dir, "extracted"))
	if err != nil {
		return "", err
	}
	return pickDataset(files, opts.Member)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// download writes the body of rawURL to dst, retrying 429, 5xx and dropped
// connections. Each attempt rewrites dst from the start.
func download(ctx context.Context, rawURL, dst string, opts FetchOptions) (int64, error) {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "saferoute/1.0"
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 3
		policy.InitialBackoff = time.Second
		policy.MaxBackoff = 30 * time.Second
	}
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger("ingest", "download")
	}

	var n int64
	err := resilience.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return eris.Wrap(err, "ingest: create request")
		}
		req.Header.Set("User-Agent", ua)

		resp, err := client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrapf(err, "ingest: get %s", rawURL), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return resilience.StatusError("ingest: download "+rawURL, resp.StatusCode, string(body))
		}

		file, err := os.Create(dst)
		if err != nil {
			return eris.Wrap(err, "ingest: create file")
		}
		defer file.Close() //nolint:errcheck

		n, err = io.Copy(file, resp.Body)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "ingest: write file"), 0)
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: download %s", rawURL)
	}
	return n, nil
}

// extractZIP extracts every file of an archive into destDir and returns the
// extracted paths.
func extractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open zip")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		p, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if p != "" {
			extracted = append(extracted, p)
		}
	}
	return extracted, nil
}

func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("ingest: illegal zip path %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		return "", eris.Wrap(os.MkdirAll(destPath, 0o755), "ingest: create directory")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "ingest: open zip entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "ingest: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "ingest: write zip entry")
	}
	return destPath, nil
}

func pickDataset(files []string, member string) (string, error) {
	if member != "" {
		for _, f := range files {
			if strings.EqualFold(filepath.Base(f), member) {
				return f, nil
			}
		}
		return "", eris.Errorf("ingest: archive has no file %q", member)
	}
	for _, ext := range datasetExts {
		for _, f := range files {
			if strings.EqualFold(filepath.Ext(f), ext) {
				return f, nil
			}
		}
	}
	return "", eris.Errorf("ingest: archive has no %s file", strings.Join(datasetExts, ", "))
}
