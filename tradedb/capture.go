package tradedb

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/tdtool/pkg/id"
)

// CaptureSession is one feed-tap run recorded in the Capture table.
type CaptureSession struct {
	ID      string
	Source  string
	Started time.Time
}

// BeginCapture records the start of a tap run against a feed source.
// The start time is the one embedded in the session id.
func (d *DB) BeginCapture(ctx context.Context, source string) (CaptureSession, error) {
	sessID := id.New()
	started, err := id.Time(sessID)
	if err != nil {
		return CaptureSession{}, err
	}
	sess := CaptureSession{
		ID:      sessID,
		Source:  source,
		Started: started,
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO Capture (capture_id, source, started) VALUES (?, ?, ?)`,
		sess.ID, sess.Source, sess.Started)
	if err != nil {
		return CaptureSession{}, fmt.Errorf("record capture session: %w", err)
	}
	return sess, nil
}

// CaptureCount reports how many session rows the Capture table holds.
func (d *DB) CaptureCount() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM Capture`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count capture sessions: %w", err)
	}
	return n, nil
}

// FinishCapture stamps the session with its end time and record count.
func (d *DB) FinishCapture(ctx context.Context, sess CaptureSession, records int) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE Capture SET finished = ?, records = ? WHERE capture_id = ?`,
		time.Now().UTC(), records, sess.ID)
	if err != nil {
		return fmt.Errorf("finish capture session: %w", err)
	}
	return nil
}
