package uploader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressXML(t *testing.T) {
	data, err := CompressXML("<record/>", "20231115061320")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "sportRecord_20231115061320.xml", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<record/>", string(content))
}

func TestUploadRecord(t *testing.T) {
	zipData, err := CompressXML("<record/>", "20231115061320")
	require.NoError(t, err)

	var gotQuery map[string]string
	var gotFilename string
	var gotFileBytes []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/bk_uploadRecord", r.URL.Path)

		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("RecordFile")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		gotFileBytes, err = io.ReadAll(file)
		require.NoError(t, err)

		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	u := New(srv.URL, "test-agent")
	err = u.UploadRecord(zipData, "tok123", "20231115061320", "1068963200", "BB16", "BB16_2_00000000")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"ton":           "tok123",
		"deviceType":    "BB16",
		"sn":            "BB16_2_00000000",
		"fittime":       "1068963200",
		"localRecordId": "20231115061320",
	}, gotQuery)
	assert.Equal(t, "sportRecord_20231115061320.zip", gotFilename)
	assert.Equal(t, zipData, gotFileBytes)
}

func TestUploadRecordServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","msg":"record exists"}`)
	}))
	defer srv.Close()

	err := New(srv.URL, "test-agent").
		UploadRecord([]byte("zip"), "tok", "id", "0", "BB16", "sn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record exists")
}

func TestRecordParams(t *testing.T) {
	recordID, fittime := RecordParams(1700000000000)
	assert.Equal(t, "20231115061320", recordID)
	assert.Equal(t, "1068963200", fittime)
}
