package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Sends one request to the daemon at socket and decodes the response.
//
// An error response is returned as [ErrRemote] carrying the daemon's
// message. result may be nil when the response has no payload of interest.
func Call(ctx context.Context, socket string, cmd Command, req, result any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := Encode(cmd, req)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, Delimiter)); err != nil {
		return err
	}

	line, err := bufio.NewReader(conn).ReadBytes(Delimiter)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	env, payload, err := Decode(line)
	if err != nil {
		return err
	}

	switch env.Command {
	case CmdOK:
		if result == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, result); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return nil
	case CmdError:
		e, err := DecodePayload[ErrorResult](payload)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRemote, e.Message)
	default:
		return fmt.Errorf("%w: unexpected response %q", ErrMalformed, env.Command)
	}
}
