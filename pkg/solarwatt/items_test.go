package solarwatt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleItems() []Item {
	return []Item{
		{Name: "harmonized_Battery_StateOfCharge", Type: "Number:Dimensionless", State: "87 %", Label: "Battery SoC"},
		{Name: "harmonized_Grid_Power", Type: "Number:Power", State: "1523 W", Label: "Grid power"},
		{Name: "harmonized_Status", Type: "String", State: "OK", Label: "Status"},
	}
}

func TestFetchAllItemsPreservesPayload(t *testing.T) {

	payloads := [][]Item{
		{},
		sampleItems(),
		{{Name: "a b/c", Type: "Switch", State: "ON"}, {Name: "ÄÖÜ", Type: "Number", State: "1"}},
	}

	for i, items := range payloads {
		t.Run(fmt.Sprintf("payload_%d", i), func(t *testing.T) {
			gw := NewTestGateway(testPassword, items)
			defer gw.Close()

			client := newTestClient(t, gw.Host(), testPassword)
			got, err := client.FetchAllItems(context.Background())
			require.NoError(t, err)
			require.Len(t, got, len(items))
			for j := range items {
				assert.Equal(t, items[j].Name, got[j].Name)
			}
		})
	}
}

func TestFetchAllItemsLogsInFirst(t *testing.T) {

	gw := NewTestGateway(testPassword, sampleItems())
	defer gw.Close()

	client := newTestClient(t, gw.Host(), testPassword)
	_, err := client.FetchAllItems(context.Background())
	require.NoError(t, err)
	_, err = client.FetchAllItems(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Logins())
	assert.True(t, client.Authenticated())
}

func TestFetchAllItemsPlainTextContentType(t *testing.T) {

	gw := NewTestGateway(testPassword, sampleItems())
	defer gw.Close()
	gw.SetPlainText(true)

	client := newTestClient(t, gw.Host(), testPassword)
	items, err := client.FetchAllItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, State("87 %"), items[0].State)
}

func TestFetchAllItemsStateKinds(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()
	gw.SetRawItemsBody("\xef\xbb\xbf" + `[
		{"name":"n1","type":"Number","state":42.5,"label":"num"},
		{"name":"n2","type":"Switch","state":true},
		{"name":"n3","type":"Number","state":null},
		{"name":"n4","type":"String","state":"NULL"}
	]`)
	gw.SetPlainText(true)

	client := newTestClient(t, gw.Host(), testPassword)
	items, err := client.FetchAllItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, State("42.5"), items[0].State)
	assert.Equal(t, "num", items[0].Label)
	assert.Equal(t, State("true"), items[1].State)
	assert.Equal(t, State(""), items[2].State)
	assert.Equal(t, State("NULL"), items[3].State)
}

func TestFetchAllItemsErrors(t *testing.T) {

	gw := NewTestGateway(testPassword, sampleItems())
	defer gw.Close()
	client := newTestClient(t, gw.Host(), testPassword)

	gw.SetItemsStatus(http.StatusInternalServerError)
	_, err := client.FetchAllItems(context.Background())
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	assert.False(t, fetchErr.SessionExpired)

	gw.SetItemsStatus(0)
	gw.SetRawItemsBody(`[{"name": "broken"`)
	_, err = client.FetchAllItems(context.Background())
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "unparsable body", fetchErr.Reason)

	// a failed data call does not drop a valid session
	assert.True(t, client.Authenticated())
	assert.Equal(t, 1, gw.Logins())
}

func TestFetchAllItemsLoginFailure(t *testing.T) {

	gw := NewTestGateway(testPassword, sampleItems())
	defer gw.Close()

	client := newTestClient(t, gw.Host(), "wrong")
	_, err := client.FetchAllItems(context.Background())

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 0, gw.ItemRequests())
}

func TestSessionExpiryReauthenticatesOnNextCall(t *testing.T) {

	for _, reject401 := range []bool{false, true} {
		t.Run(fmt.Sprintf("reject401=%v", reject401), func(t *testing.T) {
			gw := NewTestGateway(testPassword, sampleItems())
			defer gw.Close()
			gw.SetRejectWith401(reject401)

			client := newTestClient(t, gw.Host(), testPassword)
			_, err := client.FetchAllItems(context.Background())
			require.NoError(t, err)

			gw.ExpireSessions()

			// the expired call fails, no retry inside the same call
			_, err = client.FetchAllItems(context.Background())
			require.Error(t, err)
			assert.True(t, IsSessionExpired(err))
			assert.False(t, client.Authenticated())
			assert.Equal(t, 1, gw.Logins())

			// next call logs in again
			items, err := client.FetchAllItems(context.Background())
			require.NoError(t, err)
			assert.Len(t, items, 3)
			assert.Equal(t, 2, gw.Logins())
		})
	}
}

func TestLoginPageInsteadOfData(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()
	gw.SetPlainText(true)
	gw.SetRawItemsBody(testLoginPage)

	client := newTestClient(t, gw.Host(), testPassword)
	_, err := client.FetchAllItems(context.Background())
	assert.True(t, IsSessionExpired(err))
	assert.False(t, client.Authenticated())
}

func TestFetchItem(t *testing.T) {

	gw := NewTestGateway(testPassword, sampleItems())
	defer gw.Close()

	client := newTestClient(t, gw.Host(), testPassword)
	item, err := client.FetchItem(context.Background(), "harmonized_Grid_Power")
	require.NoError(t, err)
	assert.Equal(t, "Grid power", item.Label)
	assert.Equal(t, State("1523 W"), item.State)

	_, err = client.FetchItem(context.Background(), "missing")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)

	_, err = client.FetchItem(context.Background(), "")
	assert.ErrorAs(t, err, &fetchErr)

	// names are escaped exactly once
	gw.SetItems(append(sampleItems(), Item{Name: "Grid Power", Type: "Number:Power", State: "5 W", Label: "spaced"}))
	item, err = client.FetchItem(context.Background(), "Grid Power")
	require.NoError(t, err)
	assert.Equal(t, "spaced", item.Label)
}

func TestStateUnmarshalRejectsObjects(t *testing.T) {

	var item Item
	err := json.Unmarshal([]byte(`{"name":"x","state":{"a":1}}`), &item)
	assert.Error(t, err)
}

func TestValidateGateway(t *testing.T) {

	gw := NewTestGateway(testPassword, sampleItems())
	defer gw.Close()

	logger := zap.NewNop()

	endpoint, err := NewEndpoint(gw.Host(), "", testPassword)
	require.NoError(t, err)
	count, err := ValidateGateway(context.Background(), endpoint, time.Second, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	endpoint, err = NewEndpoint(gw.Host(), "", "wrong")
	require.NoError(t, err)
	_, err = ValidateGateway(context.Background(), endpoint, time.Second, logger)
	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}
