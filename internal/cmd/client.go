package cmd

import (
	"fmt"

	"kild/internal/config"
	"kild/internal/errors"
	"kild/internal/protocol"
	"kild/internal/transport"
)

// dialDaemon connects to the configured daemon socket and returns the
// still-open connection's codec for further requests. No Initialize
// handshake is sent; the CLI goes straight to free-form requests.
func dialDaemon() (*protocol.Codec, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	conn, err := transport.DialUnix(transport.ResolveSocketPath(cfg.Daemon.SocketPath))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to daemon (is it running? try 'kild daemon start'): %w", err)
	}

	codec := protocol.NewCodec(conn)
	return codec, conn.Close, nil
}

// roundTrip sends req and returns the single correlated response.
func roundTrip(codec *protocol.Codec, req *protocol.Request) (*protocol.Response, error) {
	if err := codec.WriteMessageFlush(req); err != nil {
		return nil, err
	}
	resp, err := codec.ReadResponse()
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("daemon closed the connection without a response")
	}
	if resp.Type == protocol.TypeErrorResponse {
		return nil, &errors.Error{Code: errors.Code(resp.Code), Message: resp.Message, IsUserError: resp.IsUserError}
	}
	return resp, nil
}
