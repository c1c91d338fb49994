package sensor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodW1 = "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"

func TestParseW1Slave(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    float64
		wantErr error
	}{
		{name: "valid", data: goodW1, want: 23.125},
		{name: "negative", data: "ff ff : crc=aa YES\nff ff t=-1250\n", want: -1.25},
		{name: "crc failed", data: "72 01 : crc=57 NO\n72 01 t=23125\n", wantErr: ErrNotReady},
		{name: "truncated", data: "72 01 : crc=57 YES\n", wantErr: ErrNotReady},
		{name: "missing field", data: "72 01 : crc=57 YES\n72 01 4b\n", wantErr: ErrNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseW1Slave([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestW1ReaderReadAndDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"28-0000000b", "28-0000000a", "00-master"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, id), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "28-0000000a", "w1_slave"), []byte(goodW1), 0o644))

	r := NewW1Reader(dir)

	ids, err := r.Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{"28-0000000a", "28-0000000b"}, ids)

	v, err := r.Read(context.Background(), "28-0000000a")
	require.NoError(t, err)
	assert.InDelta(t, 23.125, v, 1e-9)

	_, err = r.Read(context.Background(), "28-0000000b")
	assert.Error(t, err)
}
