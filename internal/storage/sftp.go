package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/logger"
)

const defaultSFTPPort = 22

// SFTPStore uploads objects over SFTP.
type SFTPStore struct {
	cfg     conf.SFTPSettings
	baseURL string
	log     logger.Logger
	now     func() time.Time
}

// NewSFTPStore validates cfg and applies defaults.
func NewSFTPStore(cfg *conf.SFTPSettings, publicBaseURL string) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sftp: host is required")
	}
	if cfg.KeyFile == "" && cfg.Password == "" {
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}
	c := *cfg
	if c.Port == 0 {
		c.Port = defaultSFTPPort
	}
	if c.Timeout == 0 {
		c.Timeout = defaultStoreTimeout
	}
	c.Path = strings.TrimRight(c.Path, "/")

	return &SFTPStore{
		cfg:     c,
		baseURL: publicBaseURL,
		log:     getLogger().Module("sftp"),
		now:     time.Now,
	}, nil
}

func (s *SFTPStore) Name() string { return "sftp" }

func (s *SFTPStore) Close() error { return nil }

// Put uploads localPath under <path>/<key>.
func (s *SFTPStore) Put(ctx context.Context, localPath, objectName string) (Object, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return Object{}, uploadError(err, "sftp", "connect")
	}
	defer client.Close() //nolint:errcheck // session teardown

	key := NewKey(s.now(), objectName)
	size, err := putFile(client, localPath, path.Join(s.cfg.Path, key))
	if err != nil {
		return Object{}, uploadError(err, "sftp", "put")
	}

	publicURL, err := PublicURL(s.baseURL, key)
	if err != nil {
		return Object{}, uploadError(err, "sftp", "public-url")
	}

	s.log.Debug("stored image", logger.String("key", key), logger.Int64("size", size))
	return Object{URL: publicURL, Key: key, Size: size}, nil
}

// putFile writes to a temp name in the target directory and renames it.
func putFile(client *sftp.Client, localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath) //nolint:gosec // G304: upload temp path created by the API
	if err != nil {
		return 0, fmt.Errorf("sftp: failed to open local file: %w", err)
	}
	defer src.Close() //nolint:errcheck // read-only

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("sftp: failed to create directory %s: %w", path.Dir(remotePath), err)
	}

	tempPath := remotePath + ".part"
	dst, err := client.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("sftp: failed to create file: %w", err)
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = client.Remove(tempPath)
		return 0, fmt.Errorf("sftp: failed to write file: %w", err)
	}

	if err := client.Rename(tempPath, remotePath); err != nil {
		_ = client.Remove(tempPath)
		return 0, fmt.Errorf("sftp: failed to rename file: %w", err)
	}
	return n, nil
}

func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after cancellation.
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.client, result.err
	}
}

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    s.cfg.Username,
		Timeout: s.cfg.Timeout,
	}

	switch {
	case s.cfg.KeyFile != "":
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case s.cfg.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}

	callback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	config.HostKeyCallback = callback
	return config, nil
}

func (s *SFTPStore) hostKeyCallback() (ssh.HostKeyCallback, error) {
	knownHostsFile := s.cfg.KnownHostsFile
	if knownHostsFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			knownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
		}
	}

	if knownHostsFile != "" {
		if _, err := os.Stat(knownHostsFile); err == nil {
			callback, err := knownhosts.New(knownHostsFile)
			if err != nil {
				return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
			}
			return callback, nil
		}
	}

	if s.cfg.KnownHostsFile != "" {
		return nil, fmt.Errorf("sftp: known hosts file %s not found", s.cfg.KnownHostsFile)
	}

	s.log.Warn("no known_hosts file found, host key verification disabled",
		logger.String("host", s.cfg.Host))
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-out when no known_hosts exists
}
