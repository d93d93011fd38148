// Package sshtest runs an in-process SSH server for tests.
//
// The server accepts password and public key logins, allocates fake PTYs,
// and runs a line-echo shell:
//
//   - shell start writes "ready\n"
//   - stdin is written back prefixed with "echo:"
//   - a window-change request writes "resize:<cols>x<rows>\n"
//   - the input line "exit" ends the shell with exit status 0
//
// Exec requests are answered by Options.Exec when set, otherwise "cmd:<cmd>\n"
// is echoed with exit status 0.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// ExecFunc handles one exec request.
type ExecFunc func(cmd string, stdin []byte) (stdout, stderr string, exitCode int)

// Server is a running test SSH server.
type Server struct {
	Addr string
	Host string
	Port int

	exec     ExecFunc
	listener net.Listener
	done     chan struct{}

	mu      sync.Mutex
	conns   map[*ssh.ServerConn]struct{}
	shells  int
	resizes []string
}

// Options configures accepted credentials. An empty Password disables
// password logins; a nil AuthorizedKey disables key logins.
type Options struct {
	Password      string
	AuthorizedKey ssh.PublicKey
	// Exec, when non-nil, serves exec requests.
	Exec ExecFunc
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	hostSigner, _ := GenerateKey(t)
	config := &ssh.ServerConfig{}
	if opts.Password != "" {
		config.PasswordCallback = func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == opts.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("invalid password")
		}
	}
	if opts.AuthorizedKey != nil {
		want := ssh.FingerprintSHA256(opts.AuthorizedKey)
		config.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == want {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tcpAddr := listener.Addr().(*net.TCPAddr)

	s := &Server{
		Addr:     listener.Addr().String(),
		Host:     tcpAddr.IP.String(),
		Port:     tcpAddr.Port,
		exec:     opts.Exec,
		listener: listener,
		done:     make(chan struct{}),
		conns:    make(map[*ssh.ServerConn]struct{}),
	}

	go func() {
		defer close(s.done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handleConn(netConn, config)
		}
	}()

	t.Cleanup(s.Close)
	return s
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.listener.Close()
	<-s.done
	s.DropConnections()
}

// DropConnections closes every client connection, simulating a remote hangup.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*ssh.ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// ConnCount returns the number of live client connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ShellCount returns how many shells have been started.
func (s *Server) ShellCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shells
}

// Resizes returns every window-change seen, formatted "<cols>x<rows>".
func (s *Server) Resizes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resizes...)
}

func (s *Server) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}

	s.mu.Lock()
	s.conns[sshConn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sshConn)
		s.mu.Unlock()
		sshConn.Close()
	}()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env":
			reply(req, true)

		case "window-change":
			if len(req.Payload) >= 8 {
				cols := binary.BigEndian.Uint32(req.Payload[0:4])
				rows := binary.BigEndian.Uint32(req.Payload[4:8])
				size := fmt.Sprintf("%dx%d", cols, rows)
				s.mu.Lock()
				s.resizes = append(s.resizes, size)
				s.mu.Unlock()
				ch.Write([]byte("resize:" + size + "\n"))
			}
			reply(req, true)

		case "shell":
			reply(req, true)
			s.mu.Lock()
			s.shells++
			s.mu.Unlock()
			go runEchoShell(ch)

		case "exec":
			cmd := parseString(req.Payload)
			reply(req, true)
			go s.runExec(ch, cmd)

		default:
			reply(req, false)
		}
	}
}

func runEchoShell(ch ssh.Channel) {
	ch.Write([]byte("ready\n"))
	buf := make([]byte, 4096)
	var line strings.Builder
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			ch.Write(append([]byte("echo:"), buf[:n]...))
			for _, b := range buf[:n] {
				if b != '\n' && b != '\r' {
					line.WriteByte(b)
					continue
				}
				if line.String() == "exit" {
					sendExitStatus(ch, 0)
					ch.Close()
					return
				}
				line.Reset()
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) runExec(ch ssh.Channel, cmd string) {
	stdin, _ := io.ReadAll(ch)

	stdout, stderr, code := "cmd:"+cmd+"\n", "", 0
	if s.exec != nil {
		stdout, stderr, code = s.exec(cmd, stdin)
	}
	io.WriteString(ch, stdout)
	io.WriteString(ch.Stderr(), stderr)
	sendExitStatus(ch, code)
	ch.Close()
}

func sendExitStatus(ch ssh.Channel, code int) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	ch.SendRequest("exit-status", false, payload)
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

func parseString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

// GenerateKey returns a fresh ed25519 signer and its OpenSSH PEM encoding.
func GenerateKey(t testing.TB) (ssh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer, pem.EncodeToMemory(block)
}
