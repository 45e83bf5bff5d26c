package emdn

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func quoteLine(item string, sell, buy int) string {
	return fmt.Sprintf(`{"type":"marketquote","message":{"buyPrice":%d,"sellPrice":%d,"demand":10,"demandLevel":2,"stationStock":5,"stationStockLevel":1,"categoryName":"Metals","itemName":%q,"stationName":"Abraham Lincoln (Sol)","timestamp":"2014-10-01T12:00:00"}}`, buy, sell, item)
}

func writeCapture(t *testing.T, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func drinkAll(t *testing.T, f *Firehose, opts DrinkOptions) ([]Record, bool) {
	t.Helper()

	var recs []Record
	exhausted, err := f.Drink(context.Background(), opts, func(r Record) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	return recs, exhausted
}

func TestDrinkFromFile(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "feed.jsonl",
		quoteLine("Gold", 9531, 9800),
		`{"type":"heartbeat"}`,
		"",
		quoteLine("Silver", 4000, 4100),
	)

	f, err := Open("file://" + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	recs, exhausted := drinkAll(t, f, DrinkOptions{})
	assert.True(t, exhausted)
	require.Len(t, recs, 2, "heartbeat and blank lines are skipped")
	assert.Equal(t, "Gold", recs[0].Item)
	assert.Equal(t, "Silver", recs[1].Item)
}

func TestDrinkRecordLimit(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "feed.jsonl",
		quoteLine("Gold", 1, 2),
		quoteLine("Silver", 3, 4),
		quoteLine("Bertrandite", 5, 6),
	)

	f, err := Open(path) // bare path works too
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	recs, exhausted := drinkAll(t, f, DrinkOptions{Records: 2})
	assert.False(t, exhausted)
	assert.Len(t, recs, 2)

	// Second drink picks up where the first stopped.
	recs, exhausted = drinkAll(t, f, DrinkOptions{})
	assert.True(t, exhausted)
	require.Len(t, recs, 1)
	assert.Equal(t, "Bertrandite", recs[0].Item)
}

func TestDrinkCallbackErrorAborts(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "feed.jsonl", quoteLine("Gold", 1, 2))

	f, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	boom := fmt.Errorf("boom")
	_, err = f.Drink(context.Background(), DrinkOptions{}, func(Record) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDrinkFromXZCapture(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.jsonl.xz")
	fh, err := os.Create(path)
	require.NoError(t, err)
	xw, err := xz.NewWriter(fh)
	require.NoError(t, err)
	_, err = xw.Write([]byte(quoteLine("Gold", 9531, 9800) + "\n"))
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	require.NoError(t, fh.Close())

	f, err := Open("file://" + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	recs, exhausted := drinkAll(t, f, DrinkOptions{})
	assert.True(t, exhausted)
	require.Len(t, recs, 1)
	assert.Equal(t, "Gold", recs[0].Item)
}

func TestDrinkFromZipArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "captures.zip")
	fh, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(fh)

	// Entries named so extraction order matches feed order.
	for i, line := range []string{quoteLine("Gold", 1, 2), quoteLine("Silver", 3, 4)} {
		w, err := zw.Create(fmt.Sprintf("capture-%d.jsonl", i))
		require.NoError(t, err)
		_, err = w.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, fh.Close())

	f, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	recs, exhausted := drinkAll(t, f, DrinkOptions{})
	assert.True(t, exhausted)
	require.Len(t, recs, 2)
	assert.Equal(t, "Gold", recs[0].Item)
	assert.Equal(t, "Silver", recs[1].Item)

	// Closing removes the extraction directory.
	dir := f.src.(*captureSource).tempDir
	require.NotEmpty(t, dir)
	require.NoError(t, f.Close())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "extraction dir should be cleaned up")
}

func writeFrame(conn net.Conn, payload string) error {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write([]byte(payload)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if err := binary.Write(conn, binary.BigEndian, uint32(compressed.Len())); err != nil {
		return err
	}
	_, err := conn.Write(compressed.Bytes())
	return err
}

func TestDrinkFromStream(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = writeFrame(conn, quoteLine("Gold", 9531, 9800))
		_ = writeFrame(conn, `{"type":"heartbeat"}`)
		_ = writeFrame(conn, quoteLine("Silver", 4000, 4100))
	}()

	f, err := Open("tcp://" + ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	recs, exhausted := drinkAll(t, f, DrinkOptions{Records: 2})
	assert.False(t, exhausted)
	require.Len(t, recs, 2)
	assert.Equal(t, "Gold", recs[0].Item)
	assert.Equal(t, "Silver", recs[1].Item)
}

func TestDrinkStreamTimeout(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, _ := ln.Accept()
		if conn != nil {
			// Hold the connection open without sending anything.
			time.Sleep(2 * time.Second)
			conn.Close()
		}
	}()

	f, err := Open("tcp://" + ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	start := time.Now()
	recs, exhausted := drinkAll(t, f, DrinkOptions{Timeout: 100 * time.Millisecond})
	assert.False(t, exhausted)
	assert.Empty(t, recs)
	assert.Less(t, time.Since(start), time.Second, "timeout should cut the read short")
}
