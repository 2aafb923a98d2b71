package csvengine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseString_InferredHeader_ObjectOutput(t *testing.T) {
	records, err := ParseString("a,b\n1,2\n3,4\n", DefaultOptions())
	if err != nil {
		t.Fatalf("ParseString error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Fields["a"] != "1" || records[1].Fields["b"] != "4" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestParseString_ExplicitHeader_ArrayOutput(t *testing.T) {
	opts := DefaultOptions()
	opts.Header = []string{"x", "y"}
	opts.OutputFormat = Array

	records, err := ParseString("1,2\n3,4\n", opts)
	if err != nil {
		t.Fatalf("ParseString error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Object[0] != "1" || records[1].Object[1] != "4" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestParseString_StrictColumnMismatch_Errors(t *testing.T) {
	opts := DefaultOptions()
	opts.Header = []string{"a", "b"}
	opts.ColumnCountStrategy = Strict

	if _, err := ParseString("1,2,3\n", opts); err == nil {
		t.Fatal("expected a strict column-count error")
	}
}

func TestParse_LazyIterator_YieldsRecordsInOrder(t *testing.T) {
	r := strings.NewReader("a,b\n1,2\n3,4\n5,6\n")
	var got []string
	for rec, err := range Parse(r, DefaultOptions()) {
		if err != nil {
			t.Fatalf("Parse error: %v", err)
		}
		got = append(got, rec.Fields["a"])
	}
	if len(got) != 3 || got[0] != "1" || got[2] != "5" {
		t.Errorf("unexpected sequence: %v", got)
	}
}

func TestParse_LazyIterator_StopsOnConsumerBreak(t *testing.T) {
	r := strings.NewReader("a\n1\n2\n3\n")
	count := 0
	for range Parse(r, DefaultOptions()) {
		count++
		if count == 1 {
			break
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one pulled record, got %d", count)
	}
}

func TestParseAsync_DeliversRecordsThenCloses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := strings.NewReader("a,b\n1,2\n3,4\n")
	var got []Result
	for res := range ParseAsync(ctx, r, DefaultOptions()) {
		got = append(got, res)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(got), got)
	}
	for _, res := range got {
		if res.Err != nil {
			t.Errorf("unexpected error in result: %v", res.Err)
		}
	}
}

type collectingWriter struct {
	records []Record
}

func (w *collectingWriter) WriteRecord(r Record) error {
	w.records = append(w.records, r)
	return nil
}

func TestParseToStream_WritesEveryRecord(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := strings.NewReader("a\n1\n2\n3\n")
	w := &collectingWriter{}
	if err := ParseToStream(ctx, r, w, DefaultOptions()); err != nil {
		t.Fatalf("ParseToStream error: %v", err)
	}
	if len(w.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(w.records))
	}
}

type erroringWriter struct{}

var errBoom = errors.New("boom")

func (erroringWriter) WriteRecord(Record) error { return errBoom }

func TestParseToStream_PropagatesWriterError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := strings.NewReader("a\n1\n2\n")
	err := ParseToStream(ctx, r, erroringWriter{}, DefaultOptions())
	if err == nil {
		t.Fatal("expected the writer's error to propagate")
	}
}

func TestParseString_UnrecognizedHint_Errors(t *testing.T) {
	opts := DefaultOptions()
	opts.OptimizationHint = -1 // unrecognized hint: router.Plan itself errors
	_, err := ParseString("a\n1\n", opts)
	if err == nil {
		t.Fatal("expected an error for an unrecognized optimization hint")
	}
}
