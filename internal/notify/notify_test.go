//go:build unit

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-pagewatch/internal/config"
	"go-pagewatch/internal/logger"

	"github.com/stretchr/testify/require"
)

type flagged int

func (f flagged) FlaggedCount() int { return int(f) }

type recorder struct {
	got []Summary
	err error
}

func (r *recorder) Notify(_ context.Context, s Summary) error {
	r.got = append(r.got, s)
	return r.err
}

func TestGateway_CapsCount(t *testing.T) {
	tests := []struct {
		name    string
		majors  int
		flagged int
		want    int
	}{
		{"nothing new", 0, 3, 0},
		{"all still flagged", 2, 5, 2},
		{"some already viewed", 4, 1, 1},
		{"all viewed", 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			g := NewGateway(config.NotifyConfig{}, flagged(tt.flagged), logger.Nop())
			g.AddNotifier(rec)

			require.Equal(t, tt.want, g.Notify(context.Background(), tt.majors))
			if tt.want == 0 {
				require.Empty(t, rec.got)
				return
			}
			require.Len(t, rec.got, 1)
			require.Equal(t, tt.want, rec.got[0].Count)
		})
	}
}

func TestGateway_DeliveryFailureIsSwallowed(t *testing.T) {
	failing := &recorder{err: errors.New("boom")}
	ok := &recorder{}
	g := NewGateway(config.NotifyConfig{}, flagged(1), logger.Nop())
	g.AddNotifier(failing)
	g.AddNotifier(ok)

	require.Equal(t, 1, g.Notify(context.Background(), 1))
	require.Len(t, ok.got, 1)
}

func TestWebhookNotifier(t *testing.T) {
	var got Summary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewGateway(config.NotifyConfig{WebhookURL: srv.URL}, flagged(2), logger.Nop())
	require.Equal(t, 2, g.Notify(context.Background(), 2))
	require.Equal(t, 2, got.Count)
	require.Equal(t, "2 websites have changed", got.Message)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	require.Error(t, NewWebhookNotifier(bad.URL, 0).Notify(context.Background(), Summary{Count: 1}))
}

func TestMessage(t *testing.T) {
	require.Equal(t, "1 website has changed", Message(1))
	require.Equal(t, "3 websites have changed", Message(3))
}
