package encoding

import (
	"bytes"
	"sync"
	"testing"
)

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 50
	iterations := 500

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				data := map[string]interface{}{
					"goroutine": id,
					"iteration": j,
					"file":      "binlog.000001",
				}
				result, err := Marshal(data)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var back map[string]interface{}
				if err := Unmarshal(result, &back); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
				if back["file"] != "binlog.000001" {
					t.Errorf("file: got %v", back["file"])
					return
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestUnmarshal_StringNotBytes(t *testing.T) {
	data, err := Marshal([]byte("db1"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result interface{}
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s, ok := result.(string); !ok || s != "db1" {
		t.Fatalf("Expected string db1, got %T %v", result, result)
	}
}

func TestStreamingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.EncodeMapLen(2); err != nil {
		t.Fatal(err)
	}
	_ = enc.EncodeString("tx_seq")
	_ = enc.EncodeInt(7)
	_ = enc.EncodeString("table")
	_ = enc.EncodeString("t1")

	dec := NewDecoder(buf.Bytes())
	n, err := dec.DecodeMapLen()
	if err != nil || n != 2 {
		t.Fatalf("map len: %d %v", n, err)
	}
	key, _ := dec.DecodeString()
	seq, _ := dec.DecodeInt64()
	if key != "tx_seq" || seq != 7 {
		t.Fatalf("got %s=%d", key, seq)
	}
	if buf.Len() > 20 {
		t.Errorf("compact ints expected, encoded %d bytes", buf.Len())
	}
}
