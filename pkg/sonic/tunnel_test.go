package sonic

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// startEchoServer returns the address of a TCP server echoing every byte.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

// startSSHServer runs a password-authenticated SSH server that only serves
// direct-tcpip channels.
func startSSHServer(t *testing.T, user, pass string) (host string, port int, key ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, p []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(p) == pass {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg)
		}
	}()

	h, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return h, port, signer.PublicKey()
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "direct-tcpip" {
			nch.Reject(ssh.UnknownChannelType, "only direct-tcpip")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nch.ExtraData(), &target); err != nil {
			nch.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		dst, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			nch.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			io.Copy(ch, dst)
			ch.Close()
		}()
		go func() {
			io.Copy(dst, ch)
			dst.Close()
		}()
	}
}

func roundTrip(t *testing.T, addr, msg string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(conn, "%s\n", msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return line[:len(line)-1]
}

func TestSSHTunnel_Forwards(t *testing.T) {
	echo := startEchoServer(t)
	host, port, _ := startSSHServer(t, "admin", "YourPaSsWoRd")

	tunnel, err := NewSSHTunnel(SSHConfig{Host: host, Port: port, User: "admin", Password: "YourPaSsWoRd", RemoteAddr: echo})
	if err != nil {
		t.Fatalf("NewSSHTunnel: %v", err)
	}
	defer tunnel.Close()

	for _, msg := range []string{"PING", "HGETALL ROUTE_TABLE:5000::/64"} {
		if got := roundTrip(t, tunnel.LocalAddr(), msg); got != msg {
			t.Errorf("echo = %q, want %q", got, msg)
		}
	}
}

func TestSSHTunnel_BadPassword(t *testing.T) {
	host, port, _ := startSSHServer(t, "admin", "YourPaSsWoRd")
	if _, err := NewSSHTunnel(SSHConfig{Host: host, Port: port, User: "admin", Password: "wrong"}); err == nil {
		t.Fatal("NewSSHTunnel with wrong password succeeded")
	}
}

func TestSSHTunnel_KnownHosts(t *testing.T) {
	echo := startEchoServer(t)
	host, port, key := startSSHServer(t, "admin", "pw")
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	otherSigner, _ := ssh.NewSignerFromKey(otherPriv)

	dir := t.TempDir()
	good := filepath.Join(dir, "known_hosts")
	bad := filepath.Join(dir, "known_hosts.bad")
	if err := os.WriteFile(good, []byte(knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(knownhosts.Line([]string{knownhosts.Normalize(addr)}, otherSigner.PublicKey())+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tunnel, err := NewSSHTunnel(SSHConfig{Host: host, Port: port, User: "admin", Password: "pw", KnownHosts: good, RemoteAddr: echo})
	if err != nil {
		t.Fatalf("NewSSHTunnel with matching host key: %v", err)
	}
	if got := roundTrip(t, tunnel.LocalAddr(), "PING"); got != "PING" {
		t.Errorf("echo = %q", got)
	}
	tunnel.Close()

	if _, err := NewSSHTunnel(SSHConfig{Host: host, Port: port, User: "admin", Password: "pw", KnownHosts: bad}); err == nil {
		t.Error("NewSSHTunnel accepted a mismatched host key")
	}
	if _, err := NewSSHTunnel(SSHConfig{Host: host, Port: port, KnownHosts: filepath.Join(dir, "missing")}); err == nil {
		t.Error("NewSSHTunnel accepted a missing known_hosts file")
	}
}

func TestSSHConfig_Defaults(t *testing.T) {
	c := SSHConfig{Host: "leaf1"}.withDefaults()
	if c.Port != 22 || c.RemoteAddr != "127.0.0.1:6379" || c.Timeout != 10*time.Second {
		t.Errorf("withDefaults() = %+v", c)
	}
}
