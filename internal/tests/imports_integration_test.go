//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"

	"asset-census-api/internal/auth"
	"asset-census-api/internal/handlers"
	"asset-census-api/pkg/reconcile"
)

func workbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("ADM")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sh.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestImportsIntegration(t *testing.T) {
	h := newHarness(t)
	coordinator := h.token(t, auth.RoleCoordinator)

	// A1 is located to ana before the import and must stay that way.
	w := h.do(t, h.srv, http.MethodPost, "/assets/A1/locate", map[string]string{"user": "ana"}, coordinator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fw, err := writer.CreateFormFile("file", "censo.xlsx")
	require.NoError(t, err)
	_, err = fw.Write(workbook(t, [][]string{
		{"No. Inventario", "Descripción", "Marca"},
		{"A1", "Silla giratoria", "Ikea"},
		{"A3", "Archivador", "Steelcase"},
	}))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports/excel", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+coordinator)
	w = httptest.NewRecorder()
	h.srv.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var preview struct {
		Data struct {
			ID      string               `json:"id"`
			Changes *reconcile.ChangeSet `json:"changes"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&preview))
	cs := preview.Data.Changes
	require.Len(t, cs.Added, 1)
	require.Len(t, cs.Modified, 1)
	require.Len(t, cs.Removed, 1)
	assert.Equal(t, "A2", cs.Removed[0].Key)

	w = h.do(t, h.srv, http.MethodPost, "/imports/"+preview.Data.ID+"/apply",
		handlers.ApplyRequest{SelectKinds: []reconcile.Kind{reconcile.KindRemoved}}, coordinator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	loaded, err := h.pg.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, loaded.Assets, "A1")
	assert.Equal(t, "Silla giratoria", loaded.Assets["A1"].Description)
	assert.True(t, loaded.Assets["A1"].Located, "reconciliation leaves tracking state alone")
	assert.Equal(t, "ana", loaded.Assets["A1"].Holder())
	assert.Contains(t, loaded.Assets, "A3")
	assert.NotContains(t, loaded.Assets, "A2")

	w = h.do(t, h.srv, http.MethodPost, "/imports/"+preview.Data.ID+"/apply", handlers.ApplyRequest{}, coordinator)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
