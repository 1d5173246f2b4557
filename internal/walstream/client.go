package walstream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leengari/pgward/internal/pgtypes"
	"github.com/leengari/pgward/internal/pgwire"
	"github.com/leengari/pgward/internal/storage"
)

// Dialer opens an authenticated replication Session for a server, the one
// hook into the "TLS handshake primitives beyond the authentication
// contract" §1 declares out of scope.
type Dialer func(ctx context.Context) (*Session, error)

// Client is one server's long-running WAL streaming process (§4.H).
type Client struct {
	ServerName string
	WALDir     string
	Slot       string
	SegSize    int64

	Dial    Dialer
	Shipper storage.FileShipper // optional: WAL files duplicated synchronously per write

	Logger *slog.Logger

	running chan struct{} // closed to request shutdown, per §5's cooperative "running" flag
}

// NewClient builds a WAL streaming Client. segSize defaults to 16 MiB if 0.
func NewClient(serverName, walDir, slot string, segSize int64, dial Dialer, logger *slog.Logger) *Client {
	if segSize == 0 {
		segSize = 16 << 20
	}
	return &Client{
		ServerName: serverName,
		WALDir:     walDir,
		Slot:       slot,
		SegSize:    segSize,
		Dial:       dial,
		Logger:     logger,
		running:    make(chan struct{}),
	}
}

// Stop requests cooperative shutdown; Run will send CopyDone, seal the
// current segment as partial and return.
func (c *Client) Stop() {
	select {
	case <-c.running:
	default:
		close(c.running)
	}
}

func (c *Client) stopRequested() bool {
	select {
	case <-c.running:
		return true
	default:
		return false
	}
}

// Run determines the starting (timeline, LSN) per §4.H's priority order,
// then streams each timeline in turn until shutdown or an unrecoverable
// decode error in the current segment forces a reconnect.
func (c *Client) Run(ctx context.Context) error {
	if err := os.MkdirAll(c.WALDir, 0755); err != nil {
		return fmt.Errorf("walstream: mkdir %s: %w", c.WALDir, err)
	}

	tli, lsn, err := c.resolveStartPosition(ctx)
	if err != nil {
		return err
	}
	c.log("resolved starting position", "timeline", tli, "lsn", lsn.String())

	for !c.stopRequested() {
		nextTLI, nextLSN, err := c.streamTimeline(ctx, tli, lsn)
		if err != nil {
			return err
		}
		if nextTLI == 0 {
			return nil // clean shutdown
		}
		tli, lsn = nextTLI, nextLSN
	}
	return nil
}

// resolveStartPosition implements §4.H's three-step priority order:
// resume from disk, else the replication slot's confirmed position
// (PG>=15), else IDENTIFY_SYSTEM's current position truncated to a
// segment boundary.
func (c *Client) resolveStartPosition(ctx context.Context) (pgtypes.TimelineID, pgtypes.LSN, error) {
	if tli, lsn, ok, err := LatestOnDisk(c.WALDir, uint64(c.SegSize)); err != nil {
		return 0, 0, err
	} else if ok {
		return tli, lsn, nil
	}

	sess, err := c.Dial(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer sess.Close()

	if pos, err := sess.ReadReplicationSlot(c.Slot); err == nil && pos != nil {
		return pos.Timeline, pos.RestartLSN, nil
	}

	ident, err := sess.IdentifySystem()
	if err != nil {
		return 0, 0, err
	}
	segSize := uint64(c.SegSize)
	truncated := pgtypes.LSN((uint64(ident.XLogPos) / segSize) * segSize)
	return ident.Timeline, truncated, nil
}

// streamTimeline runs START_REPLICATION for one timeline until the server
// either ends the stream cleanly (timeline switch, returning the next
// (tli, lsn)) or this client is asked to shut down (returning (0,0,nil)).
func (c *Client) streamTimeline(ctx context.Context, tli pgtypes.TimelineID, lsn pgtypes.LSN) (pgtypes.TimelineID, pgtypes.LSN, error) {
	if tli > 1 {
		if err := c.ensureHistoryFile(ctx, tli); err != nil {
			return 0, 0, err
		}
	}

	sess, err := c.Dial(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer sess.Close()

	if err := sess.StartReplication(c.Slot, tli, lsn); err != nil {
		return 0, 0, err
	}

	seg, segName, err := c.openSegmentFor(lsn, tli)
	if err != nil {
		return 0, 0, err
	}
	defer seg.Close()

	var received, flushed, applied pgtypes.LSN = lsn, lsn, lsn

	for {
		if c.stopRequested() {
			_ = sess.SendCopyDone()
			// §4.H: "seal the in-progress segment as partial, and exit" —
			// SegmentFile.Close leaves the .partial name in place.
			return 0, 0, nil
		}

		kind, body, err := sess.NextCopyMessage()
		if err != nil {
			return 0, 0, err
		}

		switch kind {
		case pgwire.KindCopyData:
			wal, keepalive, err := pgwire.DecodeReplicationMessage(body)
			if err != nil {
				return 0, 0, err
			}
			if wal != nil {
				segName, err = c.writeWAL(seg, segName, &received, tli, wal)
				if err != nil {
					return 0, 0, err
				}
				flushed, applied = received, received
			}
			reply := pgwire.StandbyStatusUpdate(received, flushed, applied, time.Now(), false)
			if err := sess.SendReply(reply); err != nil {
				return 0, 0, err
			}
			_ = keepalive

		case pgwire.KindCopyDone:
			if err := seg.Seal(); err != nil {
				return 0, 0, err
			}
			return sess.AfterCopyDone()

		case pgwire.KindErrorResponse:
			fields := pgwire.ErrorResponse(body)
			return 0, 0, fmt.Errorf("walstream: replication error: %s", fields['M'])

		default:
			return 0, 0, fmt.Errorf("walstream: unexpected frame kind %q in replication stream", kind)
		}
	}
}

// writeWAL writes one WALData payload to the current segment, rolling
// over to a new segment file when the payload crosses a segment
// boundary, and shipping the written bytes to the staging backend if
// configured (§4.H: "staged writes never block the authoritative local
// write" — shipping failures are logged, not propagated).
func (c *Client) writeWAL(seg *SegmentFile, segName string, received *pgtypes.LSN, tli pgtypes.TimelineID, wal *pgwire.WALData) (string, error) {
	segSize := c.SegSize
	offset := int64(wal.DataStart.OffsetInSegment(uint64(segSize)))
	payload := wal.Payload

	for len(payload) > 0 {
		room := segSize - offset
		chunk := payload
		if int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		if err := seg.WriteAt(offset, chunk); err != nil {
			return segName, err
		}
		c.shipChunk(segName, offset, chunk)

		payload = payload[len(chunk):]
		offset += int64(len(chunk))
		*received += pgtypes.LSN(len(chunk))

		if offset == segSize && len(payload) > 0 {
			if err := seg.Seal(); err != nil {
				return segName, err
			}
			segNo := uint64(*received) / uint64(segSize)
			segName = pgtypes.SegmentName(tli, segNo, uint64(segSize))
			newSeg, err := OpenSegment(c.WALDir, segName, segSize)
			if err != nil {
				return segName, err
			}
			*seg = *newSeg
			offset = 0
		}
	}
	return segName, nil
}

func (c *Client) shipChunk(segName string, offset int64, chunk []byte) {
	if c.Shipper == nil {
		return
	}
	localPath := filepath.Join(c.WALDir, segName+".partial")
	if err := c.Shipper.ShipFile(context.Background(), localPath, segName); err != nil {
		c.log("WAL staging ship failed", "segment", segName, "error", err)
	}
}

func (c *Client) openSegmentFor(lsn pgtypes.LSN, tli pgtypes.TimelineID) (*SegmentFile, string, error) {
	segNo := lsn.SegmentNumber(uint64(c.SegSize))
	name := pgtypes.SegmentName(tli, segNo, uint64(c.SegSize))
	seg, err := OpenSegment(c.WALDir, name, c.SegSize)
	if err != nil {
		return nil, "", err
	}
	return seg, name, nil
}

// ensureHistoryFile fetches TIMELINE_HISTORY and writes the ".history"
// file locally if it is not already present (§4.H).
func (c *Client) ensureHistoryFile(ctx context.Context, tli pgtypes.TimelineID) error {
	path := filepath.Join(c.WALDir, pgtypes.HistoryFileName(tli))
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	sess, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	_, content, err := sess.TimelineHistory(tli)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0644)
}

func (c *Client) log(msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Info(msg, append([]any{"server", c.ServerName}, args...)...)
	}
}
