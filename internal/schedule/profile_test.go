package schedule

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mhw-backend/internal/models"
)

func at(hour, minute int) time.Time {
	return time.Date(2023, 8, 1, hour, minute, 0, 0, time.UTC)
}

func entry(ts time.Time, chill float64) Entry {
	return Entry{Timestamp: ts, Values: map[string]float64{"chill": chill, "severe": chill + 1, "extreme": chill + 2}}
}

func TestNewProfileRejectsEmpty(t *testing.T) {
	_, err := NewProfile("empty.csv", DefaultColumns, nil)

	var failure *models.ProfileLookupFailure
	assert.True(t, errors.As(err, &failure))
}

func TestLookupNearest(t *testing.T) {
	p, err := NewProfile("test", DefaultColumns, []Entry{
		entry(at(12, 0), 20),
		entry(at(10, 0), 18), // out of order on purpose
		entry(at(11, 0), 19),
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want float64
	}{
		{name: "before first", now: at(8, 0), want: 18},
		{name: "exact", now: at(11, 0), want: 19},
		{name: "closer to earlier", now: at(11, 20), want: 19},
		{name: "closer to later", now: at(11, 40), want: 20},
		{name: "tie goes earlier", now: at(10, 30), want: 18},
		{name: "after last", now: at(23, 0), want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Lookup(tt.now).Values["chill"])
		})
	}
}

func TestBaselinesUsesGroupColumn(t *testing.T) {
	p, err := NewProfile("test", DefaultColumns, []Entry{entry(at(10, 0), 18)})
	require.NoError(t, err)

	groups := []models.TankGroup{
		{ID: "chill"},
		{ID: "severe", ProfileColumn: "severe"},
	}
	baselines, err := p.Baselines(at(10, 0), groups)
	require.NoError(t, err)
	assert.Equal(t, models.TargetSet{"chill": 18, "severe": 19}, baselines)

	_, err = p.Baselines(at(10, 0), []models.TankGroup{{ID: "x", ProfileColumn: "missing"}})
	var failure *models.ProfileLookupFailure
	assert.ErrorAs(t, err, &failure)
}

func TestParseProfileCSV(t *testing.T) {
	data := strings.Join([]string{
		"Date,Severe,Extreme,Chill",
		"2015-08-01 00:00:00+00:00,14.2,15.1,12.9",
		"",
		"2015-08-01 01:00:00,14.3,15.2,13.0",
	}, "\n")

	shift := ShiftDays(365.25 * 8)
	p, err := ParseProfileCSV("mhw_profile.csv", strings.NewReader(data), LoadOptions{Shift: shift, Location: time.UTC})
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())

	first, last := p.Span()
	assert.Equal(t, time.Date(2015, 8, 1, 0, 0, 0, 0, time.UTC).Add(shift), first)
	assert.Equal(t, time.Date(2015, 8, 1, 1, 0, 0, 0, time.UTC).Add(shift), last)

	e := p.Lookup(first)
	assert.Equal(t, 12.9, e.Values["chill"])
	assert.Equal(t, 14.2, e.Values["severe"])
	assert.Equal(t, 15.1, e.Values["extreme"])
}

func TestParseProfileCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "header only", data: "datetime,severe,extreme,chill\n"},
		{name: "short row", data: "h\n2015-08-01 00:00:00,1,2\n"},
		{name: "bad time", data: "h\nyesterday,1,2,3\n"},
		{name: "bad value", data: "h\n2015-08-01 00:00:00,1,x,3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfileCSV("p.csv", strings.NewReader(tt.data), LoadOptions{})
			var failure *models.ProfileLookupFailure
			assert.ErrorAs(t, err, &failure)
		})
	}
}

func TestLoadProfileXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"datetime", "severe", "extreme", "chill"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"2024-02-01 00:00:00", 21.5, 22.5, 19.5}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"2024-02-01 06:00:00", 21.75, 22.75, 19.75}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	p, err := LoadProfile(path, LoadOptions{Location: time.UTC})
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())

	e := p.Lookup(time.Date(2024, 2, 1, 5, 0, 0, 0, time.UTC))
	assert.Equal(t, 19.75, e.Values["chill"])
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "none.csv"), LoadOptions{})
	var failure *models.ProfileLookupFailure
	assert.ErrorAs(t, err, &failure)
}
