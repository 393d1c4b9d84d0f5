package test

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
)

// DecodeHexString is a helper function for tests that decodes hex strings. It doesn't return
// an error value, which makes it usable inline.
func DecodeHexString(hexData string) []byte {
	// Strip off any leading/trailing whitespace in hex string
	hexData = strings.TrimSpace(hexData)
	decoded, err := hex.DecodeString(hexData)
	if err != nil {
		panic(fmt.Sprintf("error decoding hex: %s", err))
	}
	return decoded
}

// PipeListener is a net.Listener whose connections are in-memory net.Pipe pairs
type PipeListener struct {
	connChan  chan net.Conn
	doneChan  chan struct{}
	onceClose sync.Once
}

func NewPipeListener() *PipeListener {
	return &PipeListener{
		connChan: make(chan net.Conn),
		doneChan: make(chan struct{}),
	}
}

// Dial returns the client end of a new connection. It blocks until the server
// end has been accepted.
func (l *PipeListener) Dial() (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case l.connChan <- server:
		return client, nil
	case <-l.doneChan:
		_ = client.Close()
		_ = server.Close()
		return nil, net.ErrClosed
	}
}

func (l *PipeListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connChan:
		return conn, nil
	case <-l.doneChan:
		return nil, net.ErrClosed
	}
}

func (l *PipeListener) Close() error {
	l.onceClose.Do(func() {
		close(l.doneChan)
	})
	return nil
}

func (l *PipeListener) Addr() net.Addr {
	return pipeAddr{}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
