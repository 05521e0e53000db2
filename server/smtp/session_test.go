package smtp

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSession(t *testing.T) (*bufio.Reader, net.Conn, chan error) {
	t.Helper()
	client, srvConn := net.Pipe()
	t.Cleanup(func() { client.Close() })

	sess := NewFactory("mx.example.com")().(*Session)
	done := make(chan error, 1)
	go func() { done <- sess.Serve(context.Background(), srvConn) }()

	return bufio.NewReader(client), client, done
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSessionDialogue(t *testing.T) {
	r, client, done := startSession(t)

	assert.Contains(t, readLine(t, r), "220 mx.example.com")

	client.Write([]byte("EHLO client.example.org\r\n"))
	assert.Contains(t, readLine(t, r), "250-mx.example.com greets client.example.org")
	assert.Contains(t, readLine(t, r), "250 SIZE")

	client.Write([]byte("NOOP\r\n"))
	assert.Contains(t, readLine(t, r), "250 OK")

	client.Write([]byte("RSET\r\n"))
	assert.Contains(t, readLine(t, r), "250 OK")

	client.Write([]byte("QUIT\r\n"))
	assert.Contains(t, readLine(t, r), "221")

	require.NoError(t, waitDone(t, done))
}

func TestSessionHELO(t *testing.T) {
	r, client, done := startSession(t)
	readLine(t, r)

	client.Write([]byte("helo client.example.org\r\n"))
	assert.Contains(t, readLine(t, r), "250 mx.example.com greets client.example.org")

	client.Write([]byte("QUIT\r\n"))
	readLine(t, r)
	require.NoError(t, waitDone(t, done))
}

func TestSessionRejectsUnknownCommands(t *testing.T) {
	r, client, done := startSession(t)
	readLine(t, r)

	client.Write([]byte("VRFY someone\r\n"))
	assert.Contains(t, readLine(t, r), "502")

	client.Write([]byte("HELO\r\n"))
	assert.Contains(t, readLine(t, r), "501")

	// Third error hits the cap and drops the connection.
	client.Write([]byte("DATA\r\n"))
	assert.Contains(t, readLine(t, r), "502")
	assert.Contains(t, readLine(t, r), "421")

	require.NoError(t, waitDone(t, done))
}

func TestSessionClientDisconnect(t *testing.T) {
	r, client, done := startSession(t)
	readLine(t, r)

	client.Close()
	require.NoError(t, waitDone(t, done))
}
