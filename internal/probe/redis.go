package probe

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
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// RedisConfig holds connection parameters for a Redis-compatible target.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

// RedisProber speaks just enough RESP to authenticate and PING. A PONG is
// healthy, an error reply (LOADING, MASTERDOWN, rejected AUTH) is unhealthy
// because the server answered but is not serving, and a socket failure is
// unknown. One connection per probe; the prober keeps no state between calls.
type RedisProber struct {
	name string
	cfg  RedisConfig
}

// NewRedisProber builds a prober for a Redis-compatible server.
func NewRedisProber(name string, cfg RedisConfig) *RedisProber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RedisProber{name: name, cfg: cfg}
}

// Name returns the target name.
func (p *RedisProber) Name() string { return p.name }

// Probe dials, authenticates when configured, and sends PING.
func (p *RedisProber) Probe(ctx context.Context) models.ProbeResult {
	start := time.Now()

	rc, err := p.dial(ctx)
	if err != nil {
		return newResult(p.name, start, models.StatusUnknown, fmt.Sprintf("dial %s: %v", p.cfg.Addr, err))
	}
	defer rc.close()

	if err := p.bootstrap(rc); err != nil {
		return newResult(p.name, start, classify(err), fmt.Sprintf("bootstrap: %v", err))
	}

	if err := rc.writeCommand("PING"); err != nil {
		return newResult(p.name, start, models.StatusUnknown, fmt.Sprintf("write PING: %v", err))
	}
	reply, err := rc.readReply()
	if err != nil {
		return newResult(p.name, start, classify(err), fmt.Sprintf("PING: %v", err))
	}
	if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "PONG") {
		return newResult(p.name, start, models.StatusUnhealthy, fmt.Sprintf("unexpected PING reply: %s", reply.data))
	}

	return newResult(p.name, start, models.StatusHealthy, "")
}

func (p *RedisProber) dial(ctx context.Context) (*redisConn, error) {
	deadline := time.Now().Add(deadlineOr(ctx, p.cfg.Timeout))
	dialer := net.Dialer{Deadline: deadline}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := hostForTLS(p.cfg.Addr)
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	// One absolute deadline covers the whole PING exchange.
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	return &redisConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}, nil
}

func (p *RedisProber) bootstrap(rc *redisConn) error {
	if p.cfg.Password != "" {
		if err := rc.writeCommand("AUTH", []byte(p.cfg.Password)); err != nil {
			return err
		}
		reply, err := rc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return &respError{msg: fmt.Sprintf("auth failed: %s", reply.data)}
		}
	}
	if p.cfg.DB > 0 {
		if err := rc.writeCommand("SELECT", []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return err
		}
		reply, err := rc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return &respError{msg: fmt.Sprintf("select failed: %s", reply.data)}
		}
	}
	return nil
}

// respError carries an error reply the server produced itself, as opposed to
// a socket failure.
type respError struct {
	msg string
}

func (e *respError) Error() string { return e.msg }

func classify(err error) models.HealthStatus {
	var re *respError
	if errors.As(err, &re) {
		return models.StatusUnhealthy
	}
	return models.StatusUnknown
}

// replyType enumerates the subset of RESP types the prober needs.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

type respReply struct {
	typ  replyType
	data []byte
}

// redisConn wraps a network connection with RESP helpers.
type redisConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func (rc *redisConn) close() {
	_ = rc.conn.Close()
}

func (rc *redisConn) writeCommand(command string, args ...[]byte) error {
	parts := make([][]byte, 0, len(args)+1)
	parts = append(parts, []byte(command))
	parts = append(parts, args...)

	if _, err := rc.writer.WriteString(fmt.Sprintf("*%d\r\n", len(parts))); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := rc.writer.WriteString(fmt.Sprintf("$%d\r\n", len(part))); err != nil {
			return err
		}
		if _, err := rc.writer.Write(part); err != nil {
			return err
		}
		if _, err := rc.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return rc.writer.Flush()
}

func (rc *redisConn) readReply() (respReply, error) {
	prefix, err := rc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := rc.readLine()
		return respReply{typ: replySimpleString, data: line}, err
	case '-':
		line, err := rc.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, &respError{msg: string(line)}
	case ':':
		line, err := rc.readLine()
		return respReply{typ: replyInteger, data: line}, err
	case '$':
		line, err := rc.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(rc.reader, buf); err != nil {
			return respReply{}, err
		}
		if err := rc.expectCRLF(); err != nil {
			return respReply{}, err
		}
		return respReply{typ: replyBulkString, data: buf}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (rc *redisConn) readLine() ([]byte, error) {
	line, err := rc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func (rc *redisConn) expectCRLF() error {
	b1, err := rc.reader.ReadByte()
	if err != nil {
		return err
	}
	b2, err := rc.reader.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
