// Package pop3 provides the minimal POP3 protocol handler bound to the POP3
// listener. The maildrop is always empty; the handler exists to run a
// correct command dialogue over accepted connections.
package pop3

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/maildock/maildock/logger"
	"github.com/maildock/maildock/server"
)

const MaxErrorsAllowed = 3           // Errors tolerated before the connection is terminated
const IdleTimeout = 5 * time.Minute  // Maximum inactivity before the connection is closed

// NewFactory returns a ProtocolFactory producing one Session per accepted
// connection.
func NewFactory(hostname string) server.ProtocolFactory {
	return func() server.Protocol {
		return &Session{hostname: hostname}
	}
}

// Session handles a single POP3 connection.
type Session struct {
	hostname      string
	user          string
	authenticated bool
	errorsCount   int
}

func (s *Session) Serve(ctx context.Context, conn net.Conn) error {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	fmt.Fprintf(writer, "+OK %s POP3 server ready\r\n", s.hostname)
	writer.Flush()

	for {
		if ctx.Err() != nil {
			writer.WriteString("-ERR Server shutting down\r\n")
			writer.Flush()
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				writer.WriteString("-ERR Connection timed out due to inactivity\r\n")
				writer.Flush()
				return nil
			}
			if err == io.EOF || server.IsConnectionError(err) {
				return nil
			}
			return err
		}

		parts := strings.Fields(strings.TrimSpace(line))
		cmd := ""
		if len(parts) > 0 {
			cmd = strings.ToUpper(parts[0])
		}

		switch cmd {
		case "USER":
			if len(parts) < 2 {
				if s.reject(writer, "-ERR Missing username\r\n") {
					return nil
				}
				continue
			}
			s.user = parts[1]
			writer.WriteString("+OK User accepted\r\n")
		case "PASS":
			if s.user == "" {
				if s.reject(writer, "-ERR USER required first\r\n") {
					return nil
				}
				continue
			}
			s.authenticated = true
			writer.WriteString("+OK Logged in\r\n")
		case "STAT":
			if !s.authenticated {
				if s.reject(writer, "-ERR Not authenticated\r\n") {
					return nil
				}
				continue
			}
			writer.WriteString("+OK 0 0\r\n")
		case "LIST":
			if !s.authenticated {
				if s.reject(writer, "-ERR Not authenticated\r\n") {
					return nil
				}
				continue
			}
			writer.WriteString("+OK 0 messages\r\n.\r\n")
		case "NOOP":
			writer.WriteString("+OK\r\n")
		case "RSET":
			writer.WriteString("+OK\r\n")
		case "QUIT":
			writer.WriteString("+OK Bye\r\n")
			writer.Flush()
			return nil
		default:
			if s.reject(writer, "-ERR Unknown command\r\n") {
				return nil
			}
			continue
		}
		writer.Flush()
	}
}

// reject writes an error response and reports whether the connection should
// be dropped because the client produced too many errors.
func (s *Session) reject(writer *bufio.Writer, response string) bool {
	s.errorsCount++
	writer.WriteString(response)
	if s.errorsCount >= MaxErrorsAllowed {
		writer.WriteString("-ERR Too many errors, closing connection\r\n")
		writer.Flush()
		logger.Debug("POP3: closing connection after repeated errors", "errors", s.errorsCount)
		return true
	}
	writer.Flush()
	return false
}
