package mgmt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/leengari/pgward/internal/config"
)

// Server answers management requests over a net.Listener, serving each
// connection on its own goroutine with one request/response pair per
// connection, matching §6's "length-prefixed JSON envelopes" framing.
type Server struct {
	State  *config.ProcessState
	Key    []byte
	Logger *slog.Logger

	// Dial opens a replication session for the backup command, which
	// needs to talk to the monitored PostgreSQL server (§4.G). Commands
	// that only touch the local catalog (restore, list-backup, info,
	// delete, retain, expunge, archive) never use it.
	Dial Dialer
}

// Serve accepts connections on ln until it returns an error (including
// when ln is closed by the caller).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	env, err := Decode(conn, CompressionNone, EncryptionNone, s.Key)
	if err != nil {
		s.log("decode request: %v", err)
		return
	}
	resp := s.dispatch(env)

	out := Envelope{
		Header: Header{
			Command:       env.Header.Command,
			ClientVersion: env.Header.ClientVersion,
			Output:        env.Header.Output,
			Timestamp:     time.Now().UTC().Format("20060102150405"),
		},
		Response: &resp,
	}
	if err := Encode(conn, out, s.Key); err != nil {
		s.log("encode response: %v", err)
	}
}

func (s *Server) dispatch(env Envelope) Response {
	req := Request{}
	if env.Request != nil {
		req = *env.Request
	}
	arg := func(key string) string {
		if req.Args == nil {
			return ""
		}
		return req.Args[key]
	}

	var resp Response
	var err error
	switch Command(env.Header.Command) {
	case CmdPing:
		resp, err = HandlePing()
	case CmdStatus, CmdStatusDetails:
		resp, err = HandleStatus(s.State)
	case CmdBackup:
		incremental, _ := strconv.ParseBool(arg("incremental"))
		resp, err = HandleBackup(context.Background(), s.State, s.Dial, BackupRequest{
			Server:      req.Server,
			Incremental: incremental,
		}, s.Logger)
	case CmdRestore:
		standby, _ := strconv.ParseBool(arg("standby"))
		resp, err = HandleRestore(s.State, RestoreRequest{
			Server:     req.Server,
			Identifier: req.Label,
			TargetBase: arg("target_base"),
			Standby:    standby,
		})
	case CmdListBackup:
		resp, err = HandleListBackup(s.State, req.Server)
	case CmdInfo:
		resp, err = HandleInfo(s.State, req.Server, req.Label)
	case CmdDelete:
		force, _ := strconv.ParseBool(arg("force"))
		resp, err = HandleDelete(s.State, DeleteRequest{Server: req.Server, Identifier: req.Label, Force: force})
	case CmdRetain:
		resp, err = HandleRetain(s.State, RetentionRequest{Server: req.Server, Identifier: req.Label})
	case CmdExpunge:
		resp, err = HandleExpunge(s.State, RetentionRequest{Server: req.Server, Identifier: req.Label})
	case CmdArchive:
		resp, err = HandleArchive(s.State, ArchiveRequest{Server: req.Server, Identifier: req.Label, DestTar: arg("dest_tar")})
	default:
		err = fmt.Errorf("mgmt: unhandled command %s", Command(env.Header.Command))
	}
	if err != nil {
		return errorResponse(err)
	}
	return resp
}

func errorResponse(err error) Response {
	return Response{Status: false, Data: []byte(fmt.Sprintf("%q", err.Error()))}
}

func (s *Server) log(format string, args ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Error(fmt.Sprintf(format, args...))
}
