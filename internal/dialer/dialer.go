package dialer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultKeepAlive = 30 * time.Second
)

type (
	// Resolver 域名解析
	Resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}

	// Dialer 解析出域名的全部 IP 后错开发起连接，最先建立的连接胜出，其余连接被取消
	Dialer struct {
		// Timeout 整体超时，在各个 IP 之间平均分配发起间隔
		Timeout   time.Duration
		KeepAlive time.Duration
		// Resolver 为空时使用 net.DefaultResolver
		Resolver Resolver
	}

	dialResult struct {
		conn net.Conn
		err  error
	}

	dialErrors struct {
		errs []error
	}
)

var ErrNoAddress = errors.New("no ip could be dialed")

func (d *Dialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d *Dialer) keepAlive() time.Duration {
	if d.KeepAlive == 0 {
		return DefaultKeepAlive
	}
	return d.KeepAlive
}

// DialContext 可以直接作为 http.Transport.DialContext 使用
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return d.DialIPs(ctx, network, []net.IP{ip}, port)
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return d.DialIPs(ctx, network, ips, port)
}

// DialIPs 依次错开连接 ips，全部失败时返回第一个错误，超时时返回的错误满足 os.IsTimeout
func (d *Dialer) DialIPs(ctx context.Context, network string, ips []net.IP, port string) (net.Conn, error) {
	if len(ips) == 0 {
		return nil, ErrNoAddress
	}
	timeout := d.timeout()
	interval := timeout / time.Duration(len(ips))
	if interval <= 0 {
		interval = time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	results := make(chan dialResult, len(ips))
	defer func() {
		cancel()
		wg.Wait()
		close(results)
		// 输掉竞争但已经建立的连接需要关闭
		for r := range results {
			if r.conn != nil {
				r.conn.Close()
			}
		}
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	errs := &dialErrors{}
	pending, next := 0, 0
	start := func() {
		ip := ips[next]
		remaining := timeout - interval*time.Duration(next)
		next++
		pending++
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := d.dialOne(ctx, network, ip, port, remaining)
			results <- dialResult{conn: conn, err: err}
		}()
	}

	start()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, errs
		case <-ticker.C:
			if next < len(ips) {
				start()
			}
		case r := <-results:
			pending--
			if r.err == nil {
				return r.conn, nil
			}
			errs.errs = append(errs.errs, r.err)
			if pending == 0 {
				if next >= len(ips) {
					return nil, errs
				}
				start()
			}
		}
	}
}

func (d *Dialer) dialOne(ctx context.Context, network string, ip net.IP, port string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout, KeepAlive: d.keepAlive()}
	addr := ip.String()
	if port != "" {
		addr = net.JoinHostPort(addr, port)
	}
	return dialer.DialContext(ctx, network, addr)
}

func (e *dialErrors) Error() string {
	if len(e.errs) > 0 {
		return e.errs[0].Error()
	}
	return context.DeadlineExceeded.Error()
}

func (e *dialErrors) Unwrap() error {
	if len(e.errs) > 0 {
		return e.errs[0]
	}
	return context.DeadlineExceeded
}

func (e *dialErrors) Timeout() bool {
	if len(e.errs) > 0 {
		if te, ok := e.errs[0].(interface{ Timeout() bool }); ok {
			return te.Timeout()
		}
		return false
	}
	return true
}
