package sshproxy

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// CommandHandler answers an exec request on a TestRouter with the command's
// output and exit status.
type CommandHandler func(command string) (output string, exitStatus uint32)

// TestRouter is an in-process SSH server standing in for a mesh router in
// tests. It accepts a single authorized public key.
type TestRouter struct {
	Addr    string
	Host    string
	Port    int
	HostKey ssh.PublicKey

	listener net.Listener
	handler  CommandHandler
	config   *ssh.ServerConfig
	done     chan struct{}

	mu       sync.Mutex
	accepted int
	commands []string
	netConns []net.Conn
	stalled  bool
}

// StartTestRouter listens on 127.0.0.1 with a random port.
func StartTestRouter(authorizedKey ssh.PublicKey, handler CommandHandler) (*TestRouter, error) {
	_, hostKeyPEM, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	hostSigner, err := ssh.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	tcpAddr := listener.Addr().(*net.TCPAddr)

	tr := &TestRouter{
		Addr:     listener.Addr().String(),
		Host:     tcpAddr.IP.String(),
		Port:     tcpAddr.Port,
		HostKey:  hostSigner.PublicKey(),
		listener: listener,
		handler:  handler,
		config:   config,
		done:     make(chan struct{}),
	}
	go tr.serve()
	return tr, nil
}

func (tr *TestRouter) serve() {
	defer close(tr.done)
	for {
		netConn, err := tr.listener.Accept()
		if err != nil {
			return
		}
		tr.mu.Lock()
		tr.accepted++
		tr.netConns = append(tr.netConns, netConn)
		tr.mu.Unlock()
		go tr.handleConn(netConn)
	}
}

func (tr *TestRouter) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, tr.config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			tr.mu.Lock()
			stalled := tr.stalled
			tr.mu.Unlock()
			if stalled {
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go tr.handleSession(ch, requests)
	}
}

func (tr *TestRouter) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		tr.mu.Lock()
		tr.commands = append(tr.commands, payload.Command)
		tr.mu.Unlock()

		output, status := "", uint32(0)
		if tr.handler != nil {
			output, status = tr.handler(payload.Command)
		}
		ch.Write([]byte(output))
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

// Accepted returns how many TCP connections the router has accepted.
func (tr *TestRouter) Accepted() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.accepted
}

// Commands returns every exec command received so far.
func (tr *TestRouter) Commands() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.commands...)
}

// StallGlobalRequests makes the router stop answering global requests such
// as keepalives, simulating a peer that vanished without closing TCP.
func (tr *TestRouter) StallGlobalRequests() {
	tr.mu.Lock()
	tr.stalled = true
	tr.mu.Unlock()
}

// DropConnections closes every accepted TCP connection, simulating a router
// reboot, while keeping the listener up.
func (tr *TestRouter) DropConnections() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, c := range tr.netConns {
		c.Close()
	}
	tr.netConns = nil
}

// Close stops the listener and drops all connections.
func (tr *TestRouter) Close() {
	tr.listener.Close()
	tr.DropConnections()
	<-tr.done
}
