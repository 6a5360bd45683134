// Package sshtunnel opens SSH local port forwards used to reach databases
// that are not directly network-reachable. A Tunnel binds a 127.0.0.1
// listener and forwards every accepted connection to the remote database
// host/port over the SSH session.
//
// Ownership: the caller owns the returned Tunnel and must Close it; the
// package never self-closes a successfully opened tunnel.
package sshtunnel

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/herihandoko/apimanager-new-sub000/internal/logutil"
)

const (
	// connectTimeout bounds the SSH handshake. The dial races this deadline;
	// a handshake that loses the race is forcibly closed.
	connectTimeout = 10 * time.Second

	// keepaliveInterval is how often a probe is sent while the tunnel is open.
	keepaliveInterval = 10 * time.Second

	// maxMissedKeepalives is how many consecutive probe failures are
	// tolerated before the tunnel is dropped.
	maxMissedKeepalives = 3
)

// Config describes the SSH endpoint and the remote database address to
// forward to. Exactly one of PrivateKey or Password must be usable.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string // PEM-encoded

	RemoteHost string
	RemotePort int

	// LocalPort is the requested local listen port; 0 auto-assigns.
	LocalPort int
}

// Tunnel is an established local-to-remote forward. Status moves from
// connecting to forwarding on success; any failure during setup closes
// everything that was opened.
type Tunnel struct {
	client    *ssh.Client
	listener  net.Listener
	localPort int

	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Open establishes the SSH session and the local forward. The handshake is
// raced against a fixed 10-second deadline; on timeout the session is
// forcibly closed and a timeout error is returned.
func Open(ctx context.Context, cfg Config) (*Tunnel, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("open tunnel: ssh host is empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("open tunnel: invalid ssh port %d", cfg.Port)
	}

	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("open tunnel: parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("open tunnel: no ssh credentials configured")
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	client, err := dialWithDeadline(ctx, addr, sshCfg)
	if err != nil {
		return nil, err
	}

	listenAddr := fmt.Sprintf("127.0.0.1:%d", cfg.LocalPort)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open tunnel: listen on %s: %w", listenAddr, err)
	}

	boundPort := listener.Addr().(*net.TCPAddr).Port
	tunnelCtx, cancel := context.WithCancel(context.Background())

	t := &Tunnel{
		client:    client,
		listener:  listener,
		localPort: boundPort,
		cancel:    cancel,
	}

	remoteAddr := net.JoinHostPort(cfg.RemoteHost, fmt.Sprintf("%d", cfg.RemotePort))
	go t.acceptLoop(tunnelCtx, remoteAddr)
	go t.keepaliveLoop(tunnelCtx)

	log.Printf("[tunnel] forward established: 127.0.0.1:%d -> %s via %s",
		boundPort, logutil.SanitizeForLog(remoteAddr), logutil.SanitizeForLog(addr))
	return t, nil
}

// dialWithDeadline races ssh.Dial against the fixed connect deadline. A dial
// that completes after the deadline already fired is closed so the socket is
// not leaked.
func dialWithDeadline(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		client, err := ssh.Dial("tcp", addr, cfg)
		select {
		case resultCh <- dialResult{client, err}:
		default:
			// Deadline already won the race; close the late session.
			if client != nil {
				client.Close()
			}
		}
	}()

	select {
	case <-dialCtx.Done():
		return nil, fmt.Errorf("open tunnel: ssh connect to %s timed out after %s: %w",
			logutil.SanitizeForLog(addr), connectTimeout, dialCtx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("open tunnel: ssh connect to %s: %w", logutil.SanitizeForLog(addr), res.err)
		}
		return res.client, nil
	}
}

// LocalPort returns the actual bound local port.
func (t *Tunnel) LocalPort() int { return t.localPort }

// LocalAddr returns the address database clients should dial.
func (t *Tunnel) LocalAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", t.localPort)
}

// Close shuts down the listener, the SSH session and all forwarding
// goroutines. Safe to call more than once.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	if t.listener != nil {
		t.listener.Close()
	}
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called (or keepalives gave up).
func (t *Tunnel) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// acceptLoop accepts local connections and forwards them to the remote
// address over SSH. Each forwarded connection runs in its own goroutine.
func (t *Tunnel) acceptLoop(ctx context.Context, remoteAddr string) {
	defer t.listener.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set a deadline so we periodically check ctx.Done()
		if tcpListener, ok := t.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := t.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[tunnel] accept error on port %d: %v", t.localPort, err)
			return
		}

		remote, err := t.client.Dial("tcp", remoteAddr)
		if err != nil {
			log.Printf("[tunnel] ssh dial to %s failed: %v", logutil.SanitizeForLog(remoteAddr), err)
			conn.Close()
			continue
		}

		go bidirectionalCopy(ctx, conn, remote)
	}
}

// keepaliveLoop sends periodic probes over the SSH session. After
// maxMissedKeepalives consecutive failures the tunnel is closed.
func (t *Tunnel) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				missed++
				if missed >= maxMissedKeepalives {
					log.Printf("[tunnel] %d keepalives missed on port %d, closing", missed, t.localPort)
					t.Close()
					return
				}
				continue
			}
			missed = 0
		}
	}
}

// bidirectionalCopy pumps bytes between the local and remote ends until
// either side closes or the context is cancelled.
func bidirectionalCopy(ctx context.Context, local, remote net.Conn) {
	defer local.Close()
	defer remote.Close()

	done := make(chan struct{}, 2)

	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}
