// Package channel wraps a non-blocking, datagram-preserving, bidirectional
// local socket endpoint used to carry input transport messages across a
// process boundary. Two Channels created by OpenPair share a process
// identity token so an external dispatcher can correlate them, but never
// share state with each other in-process - everything else about an
// endpoint is owned exclusively by its Channel.
package channel

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/google/uuid"

	"vkvm/internal/message"
)

// SocketBufferSize caps the kernel send/receive buffers on each end of a
// pair. The default (often ~128KB) is far more than needed; a few dozen
// large multi-finger motion events is enough headroom, and capping it
// keeps a stalled consumer from accumulating unbounded backlog.
const SocketBufferSize = 32 * 1024

// Channel owns one end of a connected AF_UNIX SOCK_SEQPACKET socket pair.
type Channel struct {
	name  string
	fd    int
	token string
}

// OpenPair creates a connected pair of channels named "<name> (server)"
// and "<name> (client)", matching the naming convention of the transport
// this package implements. Both channels share a freshly generated
// opaque token.
func OpenPair(name string) (server, client *Channel, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("channel '%s': socketpair: %w", name, err)
	}

	for _, fd := range fds {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, SocketBufferSize); err != nil {
			log.Printf("channel '%s': set SO_SNDBUF failed: %v", name, err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, SocketBufferSize); err != nil {
			log.Printf("channel '%s': set SO_RCVBUF failed: %v", name, err)
		}
	}

	token := uuid.NewString()
	server, err = newChannel(name+" (server)", fds[0], token)
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	client, err = newChannel(name+" (client)", fds[1], token)
	if err != nil {
		server.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return server, client, nil
}

func newChannel(name string, fd int, token string) (*Channel, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("channel '%s': set non-blocking: %w", name, err)
	}
	return &Channel{name: name, fd: fd, token: token}, nil
}

// Name returns this endpoint's debug name.
func (c *Channel) Name() string { return c.name }

// Token returns the opaque process-identity value shared by both ends
// of a pair. The transport never inspects it; it exists purely for an
// external dispatcher to correlate related channels.
func (c *Channel) Token() string { return c.token }

// FD returns the raw file descriptor. Exposed for use with an external
// event loop (e.g. epoll/kqueue) that multiplexes many channels.
func (c *Channel) FD() int { return c.fd }

// Send writes a sanitized copy of msg to the peer. Retries on EINTR,
// never blocks.
func (c *Channel) Send(msg *message.Message) error {
	data := msg.SanitizedCopy()
	var n int
	var err error
	for {
		n, err = unix.SendmsgN(c.fd, data, nil, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return message.ErrWouldBlock
		case unix.EPIPE, unix.ENOTCONN, unix.ECONNREFUSED, unix.ECONNRESET:
			return message.ErrDeadObject
		default:
			return fmt.Errorf("channel '%s': send: %w", c.name, err)
		}
	}
	if n != len(data) {
		// A seqpacket socket is all-or-nothing: a short write means the
		// peer is gone or the datagram got truncated, either way fatal
		// to this connection.
		return message.ErrDeadObject
	}
	return nil
}

// maxDatagramSize bounds a single receive buffer. It must be at least
// as large as the biggest message this package can ever construct (a
// MOTION with MaxPointers pointers).
const maxDatagramSize = 8192

// Receive reads one datagram and decodes it into a Message. Retries on
// EINTR, never blocks.
func (c *Channel) Receive() (*message.Message, error) {
	buf := make([]byte, maxDatagramSize)
	var n int
	var err error
	for {
		n, _, _, _, err = unix.Recvmsg(c.fd, buf, nil, unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return nil, message.ErrWouldBlock
		case unix.EPIPE, unix.ENOTCONN, unix.ECONNREFUSED:
			return nil, message.ErrDeadObject
		default:
			return nil, fmt.Errorf("channel '%s': receive: %w", c.name, err)
		}
	}
	if n == 0 {
		return nil, message.ErrDeadObject
	}

	msg, err := message.Decode(buf[:n])
	if err != nil || !msg.IsValid(n) {
		return nil, message.ErrBadValue
	}
	return msg, nil
}

// ProbablyHasInput does a zero-timeout poll for POLLIN. Any outcome
// other than a clean POLLIN - including poll errors, POLLERR, and
// POLLHUP - is treated as "no".
func (c *Channel) ProbablyHasInput() bool {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n <= 0 {
		return false
	}
	return fds[0].Revents&unix.POLLIN != 0
}

// WaitForMessage blocks up to timeout waiting for the socket to become
// readable, restarting on EINTR with the remaining time. A negative
// timeout is a programming error and is fatal, matching the platform
// input stack this package models.
func (c *Channel) WaitForMessage(timeout time.Duration) {
	if timeout < 0 {
		log.Fatalf("channel '%s': WaitForMessage: negative timeout %v", c.name, timeout)
	}
	deadline := time.Now().Add(timeout)
	remaining := timeout
	for {
		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		ret, err := unix.Poll(fds, int(remaining.Milliseconds()))
		remaining = time.Until(deadline)
		if ret != -1 || err != unix.EINTR || remaining <= 0 {
			return
		}
	}
}

// Dup duplicates the underlying file descriptor into a new Channel that
// shares this one's name and token. Running out of file descriptors
// here is fatal: propagating the error tends to explode somewhere less
// diagnosable on the other side of whatever called Dup, so it is better
// to crash immediately and let the leak get noticed.
func (c *Channel) Dup() *Channel {
	newFd, err := unix.Dup(c.fd)
	if err != nil {
		log.Fatalf("channel '%s': dup: %v (fd exhaustion?)", c.name, err)
	}
	if err := unix.SetNonblock(newFd, true); err != nil {
		log.Fatalf("channel '%s': dup: set non-blocking: %v", c.name, err)
	}
	return &Channel{name: c.name, fd: newFd, token: c.token}
}

// Close releases the file descriptor. A Channel must not be used after
// Close.
func (c *Channel) Close() error {
	return unix.Close(c.fd)
}
