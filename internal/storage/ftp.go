package storage

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

const (
	defaultFTPPort      = 21
	defaultStoreTimeout = 30 * time.Second
	ftpMaxRetries       = 3
	ftpRetryBackoff     = time.Second
	ftpTempPrefix       = "upload-"
)

// FTPStore uploads objects to an FTP server.
type FTPStore struct {
	cfg     conf.FTPSettings
	baseURL string
	log     logger.Logger
	now     func() time.Time
}

// NewFTPStore validates cfg and applies defaults. No connection is made
// until the first Put.
func NewFTPStore(cfg *conf.FTPSettings, publicBaseURL string) (*FTPStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ftp: host is required")
	}
	c := *cfg
	if c.Port == 0 {
		c.Port = defaultFTPPort
	}
	if c.Timeout == 0 {
		c.Timeout = defaultStoreTimeout
	}
	c.Path = strings.TrimRight(c.Path, "/")

	return &FTPStore{
		cfg:     c,
		baseURL: publicBaseURL,
		log:     getLogger().Module("ftp"),
		now:     time.Now,
	}, nil
}

func (s *FTPStore) Name() string { return "ftp" }

func (s *FTPStore) Close() error { return nil }

// Put uploads localPath under <path>/<key> with a temp name and rename.
func (s *FTPStore) Put(ctx context.Context, localPath, objectName string) (Object, error) {
	key := NewKey(s.now(), objectName)
	remotePath := path.Join(s.cfg.Path, key)

	var size int64
	err := s.withRetry(ctx, func(conn *ftp.ServerConn) error {
		if err := s.createDirectory(conn, path.Dir(remotePath)); err != nil {
			return err
		}
		n, err := s.atomicUpload(conn, localPath, remotePath)
		size = n
		return err
	})
	if err != nil {
		return Object{}, uploadError(err, "ftp", "put")
	}

	publicURL, err := PublicURL(s.baseURL, key)
	if err != nil {
		return Object{}, uploadError(err, "ftp", "public-url")
	}

	s.log.Debug("stored image", logger.String("key", key), logger.Int64("size", size))
	return Object{URL: publicURL, Key: key, Size: size}, nil
}

func (s *FTPStore) withRetry(ctx context.Context, op func(*ftp.ServerConn) error) error {
	var lastErr error
	for attempt := range ftpMaxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.connect(ctx)
		if err == nil {
			err = op(conn)
			if quitErr := conn.Quit(); quitErr != nil {
				s.log.Debug("failed to close ftp connection", logger.Error(quitErr))
			}
			if err == nil {
				return nil
			}
		}

		lastErr = err
		if !isTransientError(err) {
			return err
		}
		s.log.Warn("ftp operation failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", ftpMaxRetries),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ftpRetryBackoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("ftp: operation failed after %d attempts: %w", ftpMaxRetries, lastErr)
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}

	if s.cfg.Username != "" {
		if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	return conn, nil
}

// createDirectory creates every missing element of dir. Servers answer
// MKD on an existing directory with 550, which is ignored.
func (s *FTPStore) createDirectory(conn *ftp.ServerConn, dir string) error {
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
				continue
			}
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

func (s *FTPStore) atomicUpload(conn *ftp.ServerConn, localPath, remotePath string) (int64, error) {
	file, err := os.Open(localPath) //nolint:gosec // G304: upload temp path created by the API
	if err != nil {
		return 0, fmt.Errorf("ftp: failed to open local file: %w", err)
	}
	defer file.Close() //nolint:errcheck // read-only

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("ftp: failed to stat local file: %w", err)
	}

	tempName := path.Join(path.Dir(remotePath), fmt.Sprintf("%s%d", ftpTempPrefix, s.now().UnixNano()))
	if err := conn.Stor(tempName, file); err != nil {
		_ = conn.Delete(tempName)
		return 0, fmt.Errorf("ftp: failed to store file: %w", err)
	}
	if err := conn.Rename(tempName, remotePath); err != nil {
		_ = conn.Delete(tempName)
		return 0, fmt.Errorf("ftp: failed to rename temporary file: %w", err)
	}
	return info.Size(), nil
}
