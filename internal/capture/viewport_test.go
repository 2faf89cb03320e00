package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogOrder(t *testing.T) {
	t.Parallel()

	names := []string{}
	for _, vp := range DefaultCatalog().Viewports() {
		names = append(names, vp.Name)
	}
	require.Equal(t, []string{"desktop", "tablet", "mobile"}, names)

	mobile, ok := DefaultCatalog().Lookup("mobile")
	require.True(t, ok)
	require.Equal(t, Viewport{Name: "mobile", Width: 375, Height: 812}, mobile)
}

func TestNewCatalogValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []Viewport
		want string
	}{
		{name: "empty", in: nil, want: "at least one viewport"},
		{name: "blank name", in: []Viewport{{Width: 1, Height: 1}}, want: "name is required"},
		{name: "zero width", in: []Viewport{{Name: "a", Height: 1}}, want: "must be > 0"},
		{name: "separator", in: []Viewport{{Name: "a/b", Width: 1, Height: 1}}, want: "path separators"},
		{
			name: "duplicate",
			in:   []Viewport{{Name: "a", Width: 1, Height: 1}, {Name: "a", Width: 2, Height: 2}},
			want: "duplicate viewport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewCatalog(tt.in)
			require.ErrorContains(t, err, tt.want)
		})
	}

	catalog, err := NewCatalog([]Viewport{{Name: "wide", Width: 1920, Height: 1080}})
	require.NoError(t, err)
	require.Equal(t, 1, catalog.Len())
}
