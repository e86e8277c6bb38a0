package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider over a single pooled connection that is
// re-established on network errors. Commands are serialised by a mutex; the
// engine's cache traffic is low enough that one connection suffices.
type ValkeyProvider struct {
	cfg ValkeyConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewValkeyProvider creates a Provider and pings the target to fail fast when
// credentials or connectivity are wrong.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := p.do(ctx, "PING"); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, ErrCacheMiss
	}
	return reply, nil
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := setArgs(key, value, ttl, false)
	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if !strings.EqualFold(string(reply), "OK") {
		return fmt.Errorf("unexpected SET response: %s", reply)
	}
	return nil
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	args := setArgs(key, value, ttl, true)
	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return false, err
	}
	return reply != nil, nil
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close tears down the pooled connection.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []string {
	args := []string{key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

// do runs one command with retry on network errors. A nil reply with nil
// error represents a RESP null (missing key / unmet NX condition).
func (p *ValkeyProvider) do(ctx context.Context, command string, args ...string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := p.ensureConn(ctx); err != nil {
			lastErr = err
			p.dropConn()
			continue
		}
		reply, err := p.roundTrip(command, args...)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !isNetworkErr(err) {
			return nil, err
		}
		p.dropConn()
	}
	return nil, lastErr
}

func (p *ValkeyProvider) ensureConn(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return err
	}

	p.conn = conn
	p.reader = bufio.NewReader(conn)
	p.writer = bufio.NewWriter(conn)

	if p.cfg.Password != "" {
		auth := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{p.cfg.Username, p.cfg.Password}
		}
		if _, err := p.roundTrip("AUTH", auth...); err != nil {
			p.dropConn()
			return fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if _, err := p.roundTrip("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			p.dropConn()
			return fmt.Errorf("select db: %w", err)
		}
	}
	return nil
}

func (p *ValkeyProvider) dropConn() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.reader = nil
	p.writer = nil
}

func (p *ValkeyProvider) roundTrip(command string, args ...string) ([]byte, error) {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(p.writer, "*%d\r\n", len(args)+1); err != nil {
		return nil, err
	}
	for _, part := range append([]string{command}, args...) {
		if _, err := fmt.Fprintf(p.writer, "$%d\r\n%s\r\n", len(part), part); err != nil {
			return nil, err
		}
	}
	if err := p.writer.Flush(); err != nil {
		return nil, err
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return nil, err
	}
	return p.readReply()
}

func (p *ValkeyProvider) readReply() ([]byte, error) {
	prefix, err := p.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+', ':':
		return line, nil
	case '-':
		return nil, errors.New(string(line))
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return nil, err
		}
		if size < 0 {
			return nil, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(p.reader, buf); err != nil {
			return nil, err
		}
		return buf[:size], nil
	default:
		return nil, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (p *ValkeyProvider) readLine() ([]byte, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
