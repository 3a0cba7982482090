// Package archive fetches dependency sources distributed as archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cochaviz/depfetch/internal/deps"
	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
)

// ObjectGetter is the subset of the S3 client used for s3:// sources.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher downloads the archive for the plan's platform into
// deps-build/<name>/src on every fetch and extracts it into
// deps-build/<name>/build/<platform> when that directory does not exist yet.
//
// Supported locations are http(s) URLs, s3://bucket/key and local files,
// either as file:// URLs or paths relative to the workspace root.
type Fetcher struct {
	HTTPClient *http.Client
	// S3 is created from the default AWS configuration on first use when nil.
	S3     ObjectGetter
	Logger *slog.Logger

	s3Once sync.Once
	s3Err  error
}

var _ deps.SourceFetcher = (*Fetcher)(nil)

// Fetch implements deps.SourceFetcher.
func (f *Fetcher) Fetch(ctx context.Context, plan deps.Plan) error {
	source, ok := plan.Spec.Fetch.(manifest.ArchiveSource)
	if !ok {
		return fmt.Errorf("archive fetcher cannot fetch %s", manifest.Describe(plan.Spec.Fetch))
	}
	p := plan.Context.Platform
	location := source.URLFor(p)
	if location == "" {
		return fmt.Errorf("no archive for platform %s", p)
	}
	logger := logging.Ensure(f.Logger).With(logging.DependencyKey, plan.Name())

	name, err := fileName(location)
	if err != nil {
		return err
	}
	file := filepath.Join(plan.SourceDir(), name)
	logger.Info("downloading", "url", location, "file", file)
	if err := f.download(ctx, plan.Context.Layout.Root, location, file); err != nil {
		return err
	}

	dest := plan.BuildDir()
	if _, err := os.Stat(dest); err == nil {
		logger.Debug("archive already extracted", "dir", dest)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	logger.Info("extracting", "file", file, "dir", dest)
	if err := Extract(file, dest); err != nil {
		return errors.Join(err, os.RemoveAll(dest))
	}
	if prefix := source.Prefix[string(p)]; prefix != "" {
		if err := stripPrefix(dest, prefix); err != nil {
			return errors.Join(err, os.RemoveAll(dest))
		}
	}
	return nil
}

func fileName(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Windows drive letters parse as a one letter scheme.
		return filepath.Base(location), nil
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("archive url %q has no file name", location)
	}
	return name, nil
}

func (f *Fetcher) download(ctx context.Context, root, location, file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	body, err := f.open(ctx, root, location)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(file), ".download-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		return errors.Join(fmt.Errorf("download %s: %w", location, err), tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}
	return nil
}

func (f *Fetcher) open(ctx context.Context, root, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		local := location
		if !filepath.IsAbs(local) {
			local = filepath.Join(root, local)
		}
		return os.Open(local)
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.httpClient().Do(req)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", location, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("download %s: unexpected status %s", location, resp.Status)
		}
		return resp.Body, nil
	case "s3":
		client, err := f.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(u.Host),
			Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
		})
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", location, err)
		}
		return out.Body, nil
	case "file":
		return os.Open(filepath.FromSlash(u.Path))
	default:
		return nil, fmt.Errorf("unsupported archive scheme %q", u.Scheme)
	}
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *Fetcher) s3Client(ctx context.Context) (ObjectGetter, error) {
	f.s3Once.Do(func() {
		if f.S3 != nil {
			return
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			f.s3Err = fmt.Errorf("load AWS configuration: %w", err)
			return
		}
		f.S3 = s3.NewFromConfig(cfg)
	})
	return f.S3, f.s3Err
}

// stripPrefix moves the entries of dir/prefix into dir. A missing prefix
// directory is ignored.
func stripPrefix(dir, prefix string) error {
	prefixDir := filepath.Join(dir, filepath.FromSlash(prefix))
	entries, err := os.ReadDir(prefixDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		target := filepath.Join(dir, entry.Name())
		if target == prefixDir {
			return fmt.Errorf("prefix %q contains an entry with its own name", prefix)
		}
		if err := os.Rename(filepath.Join(prefixDir, entry.Name()), target); err != nil {
			return fmt.Errorf("strip prefix %q: %w", prefix, err)
		}
	}
	return nil
}
