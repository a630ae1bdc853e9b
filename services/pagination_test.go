package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRequest_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PageRequest
		want    PageRequest
		wantErr string
	}{
		{"defaults", PageRequest{}, PageRequest{Page: 1, PageSize: 20}, ""},
		{"explicit", PageRequest{Page: 3, PageSize: 50}, PageRequest{Page: 3, PageSize: 50}, ""},
		{"max size", PageRequest{Page: 1, PageSize: 100}, PageRequest{Page: 1, PageSize: 100}, ""},
		{"negative page", PageRequest{Page: -1, PageSize: 10}, PageRequest{}, "page"},
		{"last allowed page", PageRequest{Page: MaxPage, PageSize: 100}, PageRequest{Page: MaxPage, PageSize: 100}, ""},
		{"page beyond limit", PageRequest{Page: MaxPage + 1, PageSize: 10}, PageRequest{}, "page"},
		{"page that would overflow the offset", PageRequest{Page: math.MaxInt, PageSize: 100}, PageRequest{}, "page"},
		{"oversized", PageRequest{Page: 1, PageSize: 101}, PageRequest{}, "page_size"},
		{"negative size", PageRequest{Page: 1, PageSize: -5}, PageRequest{}, "page_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				assert.Equal(t, tt.wantErr, GetErrorDetails(err)["field"])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPageRequest_Offset(t *testing.T) {
	p := PageRequest{Page: 3, PageSize: 25}
	assert.Equal(t, 25, p.Limit())
	assert.Equal(t, 50, p.Offset())
}
