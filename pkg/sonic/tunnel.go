package sonic

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/newtron-network/srv6orch/pkg/util"
)

// SSHConfig describes how to reach a device's Redis over SSH.
type SSHConfig struct {
	Host     string
	Port     int // default 22
	User     string
	Password string

	// KnownHosts is an OpenSSH known_hosts file used to verify the host
	// key. Empty accepts any host key (lab devices).
	KnownHosts string

	// RemoteAddr is the Redis address as seen from the device,
	// default 127.0.0.1:6379.
	RemoteAddr string

	Timeout time.Duration // default 10s
}

func (c SSHConfig) withDefaults() SSHConfig {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = "127.0.0.1:6379"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if c.KnownHosts != "" {
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts %s: %w", c.KnownHosts, err)
		}
		hostKey = cb
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.Password(c.Password)},
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, nil
}

// SSHTunnel forwards a local TCP port to the device's Redis through an SSH
// connection. SONiC Redis has no authentication and listens on loopback only.
type SSHTunnel struct {
	localAddr  string
	remoteAddr string
	sshClient  *ssh.Client
	listener   net.Listener
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewSSHTunnel dials SSH and opens a local listener on a random port.
// Connections to the local port are forwarded to cfg.RemoteAddr on the device.
func NewSSHTunnel(cfg SSHConfig) (*SSHTunnel, error) {
	cfg = cfg.withDefaults()
	config, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("local listen: %w", err)
	}

	t := &SSHTunnel{
		localAddr:  listener.Addr().String(),
		remoteAddr: cfg.RemoteAddr,
		sshClient:  sshClient,
		listener:   listener,
		done:       make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	util.WithField("host", cfg.Host).Infof("SSH tunnel %s -> %s", t.localAddr, t.remoteAddr)
	return t, nil
}

// LocalAddr returns the local address that forwards to the device's Redis.
func (t *SSHTunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops the listener, closes the SSH connection, and waits for
// all forwarding goroutines to finish.
func (t *SSHTunnel) Close() error {
	close(t.done)
	t.listener.Close()
	err := t.sshClient.Close()
	t.wg.Wait()
	return err
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.sshClient.Dial("tcp", t.remoteAddr)
	if err != nil {
		util.Warnf("SSH tunnel: dialing %s: %v", t.remoteAddr, err)
		return
	}
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
	case <-done:
	case <-t.done:
	}
}
