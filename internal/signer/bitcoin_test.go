package signer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpx"
)

func esploraServer(t *testing.T, fees string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("addr") != "bc1qtest" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid address"}`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"txid":"aa","vout":1,"value":5000,"status":{"confirmed":true}},
			{"txid":"bb","vout":0,"value":700,"status":{"confirmed":false}}
		]`))
	})
	mux.HandleFunc("GET /fee-estimates", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fees))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEsploraBitcoinUTXOsSkipUnconfirmed(t *testing.T) {
	srv := esploraServer(t, `{}`)
	b := NewEsploraBitcoin(httpx.New(2*time.Second, 0), srv.URL+"/")

	utxos, err := b.GetUTXOs(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("GetUTXOs failed: %v", err)
	}
	if len(utxos) != 1 || utxos[0].TxHash != "aa" || utxos[0].Index != 1 || utxos[0].Value != 5000 {
		t.Fatalf("unexpected utxos %+v", utxos)
	}

	if _, err := b.GetUTXOs(context.Background(), "nope"); err == nil {
		t.Fatal("expected a rejected address to fail")
	}
	if _, err := b.GetUTXOs(context.Background(), " "); !clierr.HasCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for an empty address, got %v", err)
	}
}

func TestEsploraBitcoinFeeRate(t *testing.T) {
	cases := []struct {
		name string
		fees string
		want int64
	}{
		{"exact target", `{"1":30.5,"6":12.2,"144":1.1}`, 13},
		{"next slower target", `{"1":30.5,"10":8.0,"144":1.1}`, 8},
		{"only faster targets", `{"1":30.5,"3":20.0}`, 20},
		{"floors at one", `{"6":0.2}`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := esploraServer(t, tc.fees)
			got, err := NewEsploraBitcoin(httpx.New(2*time.Second, 0), srv.URL).GetFeeRate(context.Background())
			if err != nil {
				t.Fatalf("GetFeeRate failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d sat/vB, got %d", tc.want, got)
			}
		})
	}
}

func TestEsploraBitcoinEmptyFeeEstimates(t *testing.T) {
	srv := esploraServer(t, `{}`)
	_, err := NewEsploraBitcoin(httpx.New(2*time.Second, 0), srv.URL).GetFeeRate(context.Background())
	if !clierr.HasCode(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
