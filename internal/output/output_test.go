package output

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/minutebook/internal/sections"
)

type fakeUploader struct {
	url  string
	mime string
	data []byte
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, url, contentType string, data []byte) error {
	f.url, f.mime, f.data = url, contentType, data
	return f.err
}

func TestEncode(t *testing.T) {
	data, err := Encode([]sections.Section{{Name: "By-Laws & Rules", StartPage: 1, EndPage: 3}})
	require.NoError(t, err)
	want := "{\n  \"sections\": [\n    {\n      \"name\": \"By-Laws & Rules\",\n      \"startPage\": 1,\n      \"endPage\": 3\n    }\n  ]\n}\n"
	assert.Equal(t, want, string(data))

	data, err = Encode(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sections":[]}`, string(data))
}

func TestWrite_Local(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", "result.json")
	got, err := NewWriter(nil).Write(context.Background(), dest, []sections.Section{{Name: "Minutes", StartPage: 4, EndPage: 9}})
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sections":[{"name":"Minutes","startPage":4,"endPage":9}]}`, string(b))
}

func TestWrite_S3(t *testing.T) {
	_, err := NewWriter(nil).Write(context.Background(), "s3://results/a.json", nil)
	assert.ErrorContains(t, err, "no S3 client")

	up := &fakeUploader{}
	got, err := NewWriter(up).Write(context.Background(), "s3://results/a.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://results/a.json", got)
	assert.Equal(t, "application/json", up.mime)
	assert.JSONEq(t, `{"sections":[]}`, string(up.data))

	up.err = errors.New("denied")
	_, err = NewWriter(up).Write(context.Background(), "s3://results/a.json", nil)
	assert.ErrorContains(t, err, "denied")
}
