// Package smtp provides the minimal SMTP protocol handler bound to the SMTP
// listener. It answers the command verbs needed for a well-behaved client
// dialogue; mail acceptance itself is not implemented.
package smtp

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
// connection. hostname is advertised in the greeting.
func NewFactory(hostname string) server.ProtocolFactory {
	return func() server.Protocol {
		return &Session{hostname: hostname}
	}
}

// Session handles a single SMTP connection.
type Session struct {
	hostname    string
	helo        string
	errorsCount int
}

func (s *Session) Serve(ctx context.Context, conn net.Conn) error {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	fmt.Fprintf(writer, "220 %s ESMTP maildock ready\r\n", s.hostname)
	writer.Flush()

	for {
		if ctx.Err() != nil {
			writer.WriteString("421 Server shutting down\r\n")
			writer.Flush()
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				writer.WriteString("421 Idle timeout, closing connection\r\n")
				writer.Flush()
				return nil
			}
			if err == io.EOF {
				// Client dropped the connection without QUIT.
				return nil
			}
			if server.IsConnectionError(err) {
				return nil
			}
			return err
		}

		verb, arg := parseCommand(line)
		switch verb {
		case "HELO", "EHLO":
			if arg == "" {
				if s.reject(writer, "501 Syntax: "+verb+" hostname\r\n") {
					return nil
				}
				continue
			}
			s.helo = arg
			if verb == "EHLO" {
				fmt.Fprintf(writer, "250-%s greets %s\r\n250 SIZE 0\r\n", s.hostname, arg)
			} else {
				fmt.Fprintf(writer, "250 %s greets %s\r\n", s.hostname, arg)
			}
		case "NOOP":
			writer.WriteString("250 OK\r\n")
		case "RSET":
			s.helo = ""
			writer.WriteString("250 OK\r\n")
		case "QUIT":
			fmt.Fprintf(writer, "221 %s closing connection\r\n", s.hostname)
			writer.Flush()
			return nil
		case "":
			if s.reject(writer, "500 Command not recognized\r\n") {
				return nil
			}
			continue
		default:
			if s.reject(writer, "502 Command not implemented\r\n") {
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
		writer.WriteString("421 Too many errors, closing connection\r\n")
		writer.Flush()
		logger.Debug("SMTP: closing connection after repeated errors", "errors", s.errorsCount)
		return true
	}
	writer.Flush()
	return false
}

func parseCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	verb, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}
