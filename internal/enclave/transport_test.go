package enclave

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prover.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	return l, path
}

func serveOnce(t *testing.T, l net.Listener, handle func(reqEnv envelope) envelope) {
	t.Helper()
	conn, err := l.Accept()
	require.NoError(t, err)
	defer conn.Close()

	reqBytes, err := readFrame(conn)
	require.NoError(t, err)

	var reqEnv envelope
	require.NoError(t, json.Unmarshal(reqBytes, &reqEnv))

	respEnv := handle(reqEnv)
	respBytes, err := json.Marshal(respEnv)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, respBytes))
}

func newFastTransport(address string) *Transport {
	return &Transport{
		network:    "unix",
		address:    address,
		dial:       (&net.Dialer{}).DialContext,
		timeout:    5 * time.Second,
		maxRetries: MaxRetries,
		retryBase:  5 * time.Millisecond,
	}
}

func TestTransportProveSuccess(t *testing.T) {
	l, path := listen(t)
	defer l.Close()

	go serveOnce(t, l, func(reqEnv envelope) envelope {
		var req ProveRequest
		_ = json.Unmarshal(reqEnv.Payload, &req)
		resp := ProveResponse{Proof: []byte{0x01, 0x02}, PublicInputsHex: "abcd"}
		payload, _ := json.Marshal(resp)
		return envelope{Type: "prove", Payload: payload}
	})

	transport := newFastTransport(path)
	resp, err := transport.Prove(context.Background(), ProveRequest{CircuitID: "country"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp.Proof)
	assert.Equal(t, "abcd", resp.PublicInputsHex)
}

func TestTransportApplicationErrorNotRetried(t *testing.T) {
	l, path := listen(t)
	defer l.Close()

	var accepts int32
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&accepts, 1)
			reqBytes, err := readFrame(conn)
			if err != nil {
				conn.Close()
				return
			}
			var reqEnv envelope
			_ = json.Unmarshal(reqBytes, &reqEnv)
			respEnv := envelope{Type: "error", Error: "circuit not found"}
			respBytes, _ := json.Marshal(respEnv)
			_ = writeFrame(conn, respBytes)
			conn.Close()
		}
	}()

	transport := newFastTransport(path)
	_, err := transport.Prove(context.Background(), ProveRequest{CircuitID: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit not found")
	assert.EqualValues(t, 1, atomic.LoadInt32(&accepts), "application-level errors must not be retried")
}

func TestTransportRetriesOnConnectionFault(t *testing.T) {
	transport := newFastTransport(filepath.Join(t.TempDir(), "nonexistent.sock"))
	transport.maxRetries = 2

	_, err := transport.Prove(context.Background(), ProveRequest{CircuitID: "country"})
	require.Error(t, err)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	l, path := listen(t)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		require.NoError(t, err)
		defer conn.Close()
		data, err := readFrame(conn)
		require.NoError(t, err)
		assert.Equal(t, "hello frame", string(data))
	}()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, writeFrame(conn, []byte("hello frame")))
	<-done
}
