package shellcache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAndPruneGenerations(t *testing.T) {
	for _, sc := range storageCases() {
		t.Run(sc.name, func(t *testing.T) {
			st := sc.open(t)
			for name, n := range map[string]int{"app-shell-v1": 1, "app-shell-v2": 3} {
				c, err := st.Open(name)
				require.NoError(t, err)
				for i := 0; i < n; i++ {
					require.NoError(t, c.Put(string(rune('a'+i)), Response{Status: 200, Header: http.Header{}}))
				}
			}

			gens, err := ListGenerations(st, "app-shell-v2")
			require.NoError(t, err)
			assert.Equal(t, []GenerationInfo{
				{Name: "app-shell-v1", Entries: 1},
				{Name: "app-shell-v2", Entries: 3, Current: true},
			}, gens)

			deleted, err := PruneGenerations(st, "app-shell-v2")
			require.NoError(t, err)
			assert.Equal(t, []string{"app-shell-v1"}, deleted)

			gens, err = ListGenerations(st, "app-shell-v2")
			require.NoError(t, err)
			require.Len(t, gens, 1)
			assert.Equal(t, "app-shell-v2", gens[0].Name)
		})
	}
}
