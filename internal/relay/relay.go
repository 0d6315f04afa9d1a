// Package relay broadcasts recognized utterances to the beacon's receiver.
package relay

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

// ErrNoBeacon is reported when no beacon identifier is known.
var ErrNoBeacon = errors.New("no beacon detected")

// Status is the outcome of a relay attempt.
type Status int

// Relay outcomes.
const (
	Sent Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result describes a single relay attempt. Err is set for Skipped and Failed.
type Result struct {
	Status  Status
	Payload string
	Err     error
}

// FormatPayload builds the datagram body "<beacon>|<name> dice <text>".
// The name prefix is omitted when operator is empty.
func FormatPayload(beaconID, operator, text string) string {
	if operator != "" {
		return beaconID + "|" + operator + " dice " + text
	}
	return beaconID + "|" + text
}

// UDP sends payloads as single UDP datagrams. It is safe for concurrent use.
type UDP struct {
	addr    string
	timeout time.Duration
}

// NewUDP creates a relay that sends to address:port.
func NewUDP(address string, port int, timeout time.Duration) *UDP {
	return &UDP{
		addr:    net.JoinHostPort(address, strconv.Itoa(port)),
		timeout: timeout,
	}
}

// Send relays text for beaconID. It never blocks longer than the configured timeout.
func (u *UDP) Send(ctx context.Context, beaconID, operator, text string) Result {
	if beaconID == "" {
		return Result{Status: Skipped, Err: ErrNoBeacon}
	}

	payload := FormatPayload(beaconID, operator, text)
	if err := u.write(ctx, []byte(payload)); err != nil {
		return Result{Status: Failed, Payload: payload, Err: err}
	}
	return Result{Status: Sent, Payload: payload}
}

func (u *UDP) write(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	// The Linux and BSD runtimes enable SO_BROADCAST on datagram sockets.
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", u.addr)
	if err != nil {
		return util.WrapError("open broadcast socket", err)
	}
	defer util.SafeCloseFunc(conn, "broadcast socket")()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return util.WrapError("set write deadline", err)
		}
	}

	if _, err := conn.Write(payload); err != nil {
		return util.WrapError("send broadcast", err)
	}
	return nil
}
