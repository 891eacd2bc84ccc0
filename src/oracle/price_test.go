package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"polkadot":{"usd":4.56}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	rate, source, at, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.56, rate)
	assert.False(t, at.IsZero())

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, u.Host, source)
}

func TestSnapshotRetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"polkadot":{"usd":1.23}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	rate, _, _, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.23, rate)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSnapshotBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, _, _, err := c.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestSnapshotEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, _, _, err := c.Snapshot(context.Background())
	assert.Error(t, err)
}
