package worker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csvengine/csvengine/assembler"
)

func collect(t *testing.T, events <-chan Event) ([]assembler.Record, error) {
	t.Helper()
	var records []assembler.Record
	for ev := range events {
		if ev.Err != nil {
			return records, ev.Err
		}
		if ev.Done {
			return records, nil
		}
		if ev.Record != nil {
			records = append(records, *ev.Record)
		}
	}
	t.Fatal("event channel closed without a terminal Done or Err event")
	return nil, nil
}

func TestSubmit_ParseString(t *testing.T) {
	sess := Start(context.Background())
	defer sess.Close()

	events, err := sess.Submit(CmdParseString, "a,b\n1,2\n", DefaultOptions())
	require.NoError(t, err)
	records, err := collect(t, events)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Fields["a"])
	assert.Equal(t, "2", records[0].Fields["b"])
}

func TestSubmit_ParseBinary(t *testing.T) {
	sess := Start(context.Background())
	defer sess.Close()

	events, err := sess.Submit(CmdParseBinary, []byte("a,b\nx,y\n"), DefaultOptions())
	require.NoError(t, err)
	records, err := collect(t, events)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x", records[0].Fields["a"])
}

func TestSubmit_WrongPayloadType_Errors(t *testing.T) {
	sess := Start(context.Background())
	defer sess.Close()

	_, err := sess.Submit(CmdParseString, 42, DefaultOptions())
	assert.Error(t, err, "non-string payload to CmdParseString")

	_, err = sess.Submit(CmdParseBinary, "nope", DefaultOptions())
	assert.Error(t, err, "non-[]byte payload to CmdParseBinary")

	_, err = sess.Submit(CmdParseStringStream, "nope", DefaultOptions())
	assert.Error(t, err, "non-io.Reader payload to CmdParseStringStream")
}

func TestSubmit_ParseBinaryStream_AcrossChunkBoundaries(t *testing.T) {
	sess := Start(context.Background())
	defer sess.Close()

	body := "a,b,c\n1,2,3\n4,5,6\n7,8,9\n"
	opts := DefaultOptions()
	opts.ChunkSize = 5 // force many small reads, splitting rows mid-field

	events, err := sess.Submit(CmdParseBinaryStream, strings.NewReader(body), opts)
	require.NoError(t, err)
	records, err := collect(t, events)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "1", records[0].Fields["a"])
	assert.Equal(t, "9", records[2].Fields["c"])
}

func TestSubmit_ParseError_PropagatesAsErrEvent(t *testing.T) {
	sess := Start(context.Background())
	defer sess.Close()

	opts := DefaultOptions()
	opts.Assembler.Header = []string{"a", "b"}
	opts.Assembler.ColumnCountStrategy = assembler.Strict

	events, err := sess.Submit(CmdParseString, "1,2,3\n", opts)
	require.NoError(t, err)
	_, err = collect(t, events)
	assert.Error(t, err)
}

func TestSession_ContextCancel_CancelsInFlightStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := Start(ctx)

	pr, pw := io.Pipe()

	events, err := sess.Submit(CmdParseBinaryStream, pr, DefaultOptions())
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	cancel()
	pw.Close() // unblock the in-flight Read so cancellation can be observed

	select {
	case ev, ok := <-events:
		if ok && ev.Err == nil && !ev.Done {
			t.Errorf("expected a terminal event after cancellation, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation to be observed")
	}
}
