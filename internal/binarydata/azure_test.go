package binarydata

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerGate_RunsOnceUnderConcurrency(t *testing.T) {
	var gate containerGate
	var calls int64

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = gate.do(func() error {
				atomic.AddInt64(&calls, 1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "container creation must run exactly once")
}

func TestContainerGate_FailureLeavesGateOpen(t *testing.T) {
	var gate containerGate

	err := gate.do(func() error { return errors.New("unreachable") })
	require.Error(t, err)

	var ran bool
	require.NoError(t, gate.do(func() error { ran = true; return nil }))
	assert.True(t, ran, "a failed attempt must not latch the gate")

	// And a success does.
	require.NoError(t, gate.do(func() error {
		t.Fatal("gate latched, fn must not run again")
		return nil
	}))
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString(
		"DefaultEndpointsProtocol=http;AccountName=dev;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/dev;")

	assert.Equal(t, "dev", params["AccountName"])
	assert.Equal(t, "a2V5", params["AccountKey"])
	assert.Equal(t, "http://127.0.0.1:10000/dev", params["BlobEndpoint"])
}

func TestNewAzureStore_ValidatesInput(t *testing.T) {
	_, err := NewAzureStore("", "container", nil)
	assert.Error(t, err)

	_, err = NewAzureStore("AccountName=dev;AccountKey=a2V5", "", nil)
	assert.Error(t, err)

	_, err = NewAzureStore("BlobEndpoint=http://127.0.0.1:10000/dev", "container", nil)
	assert.Error(t, err, "missing account name and key")
}
