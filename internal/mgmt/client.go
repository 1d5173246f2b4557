package mgmt

import (
	"fmt"
	"net"
	"time"
)

// Client is a thin synchronous wrapper the CLI (cmd/pgward) uses to send
// one request and read its response over a fresh connection, matching
// the source's one-shot management-socket style rather than a
// persistent session.
type Client struct {
	Addr string
	Key  []byte
}

// Send dials Addr, writes req under cmd, and returns the decoded
// Response.
func (c *Client) Send(cmd Command, req Request, version string) (Response, error) {
	conn, err := net.Dial("tcp", c.Addr)
	if err != nil {
		return Response{}, fmt.Errorf("mgmt: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	env := Envelope{
		Header: Header{
			Command:       int32(cmd),
			ClientVersion: version,
			Output:        OutputJSON,
			Timestamp:     time.Now().UTC().Format("20060102150405"),
		},
		Request: &req,
	}
	if err := Encode(conn, env, c.Key); err != nil {
		return Response{}, err
	}

	respEnv, err := Decode(conn, CompressionNone, EncryptionNone, c.Key)
	if err != nil {
		return Response{}, err
	}
	if respEnv.Response == nil {
		return Response{}, fmt.Errorf("mgmt: server returned no response payload")
	}
	return *respEnv.Response, nil
}
