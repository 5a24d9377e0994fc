package taxclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/taxclient"
)

func oneLine() core.TaxRequest {
	return core.TaxRequest{
		ProductStoreID: "STORE",
		ShipToAddress:  core.PostalAddress{ContactMechID: "ADDR-CA", StateGeoID: "CA", CountryGeoID: "USA"},
		Lines:          []core.TaxLine{{ProductID: "WIDGET", TaxableBase: core.MustDecimal("40.00"), Quantity: core.Qty(10)}},
	}
}

func TestComputeTax_Success(t *testing.T) {
	// GIVEN: A tax service charging 3.20 on the one line
	var got core.TaxRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tax/compute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lineAdjustments": [[{"taxAuthorityGeoId": "CA", "amount": "3.2"}]], "orderAdjustments": []}`))
	}))
	defer srv.Close()

	// WHEN: Computing tax
	c := taxclient.New(taxclient.Config{BaseURL: srv.URL + "/"}, nil)
	res, err := c.ComputeTax(context.Background(), oneLine())

	// THEN: The request went out intact and the reply is decoded
	require.NoError(t, err)
	assert.Equal(t, "STORE", got.ProductStoreID)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].TaxableBase.Equal(core.MustDecimal("40")))
	require.Len(t, res.LineAdjustments, 1)
	require.Len(t, res.LineAdjustments[0], 1)
	assert.Equal(t, "CA", res.LineAdjustments[0][0].TaxAuthorityGeoID)
	assert.True(t, res.LineAdjustments[0][0].Amount.Equal(core.MustDecimal("3.20")))
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestComputeTax_ServerErrorIsCollaborator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate table unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := taxclient.New(taxclient.Config{BaseURL: srv.URL}, nil)
	_, err := c.ComputeTax(context.Background(), oneLine())

	var ce *core.CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tax", ce.Service)
	assert.Equal(t, "computeTax", ce.Op)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "rate table unavailable")
	assert.True(t, core.IsRetryable(err))
}

func TestComputeTax_LineResultCountMustMatch(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"too many", `{"lineAdjustments": [[], []]}`},
		{"too few", `{"lineAdjustments": []}`},
		{"missing", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			_, err := taxclient.New(taxclient.Config{BaseURL: srv.URL}, nil).ComputeTax(context.Background(), oneLine())
			assert.ErrorIs(t, err, core.ErrCollaborator)
			assert.Contains(t, err.Error(), "line results")
		})
	}
}

func TestComputeTax_MalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := taxclient.New(taxclient.Config{BaseURL: srv.URL}, nil).ComputeTax(context.Background(), oneLine())
	assert.ErrorIs(t, err, core.ErrCollaborator)
	assert.Contains(t, err.Error(), "decode response")
}

func TestComputeTax_BreakerOpens(t *testing.T) {
	// GIVEN: A service that always fails and a breaker tripping after 2
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := taxclient.New(taxclient.Config{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Minute}, nil)

	// WHEN: Calling three times
	for i := 0; i < 3; i++ {
		_, err := c.ComputeTax(context.Background(), oneLine())
		require.Error(t, err)
	}

	// THEN: The third call never reached the server
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err := c.ComputeTax(context.Background(), oneLine())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, core.ErrCollaborator)
}
